package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_RoundTrip(t *testing.T) {
	headers := []Header{
		{SessionID: 42, BodyType: BodyTypeConnect, Length: 9},
		{SessionID: 0, BodyType: BodyTypeConnectResponse, Length: 0, Error: ErrorCodeDuplicateSession},
		{SessionID: ^uint32(0), BodyType: MaxBodyType, Length: MaxPayloadLength, Error: ErrorCodeInternal},
		{SessionID: 7, BodyType: BodyTypePingRequest, Length: 32},
	}

	for _, h := range headers {
		t.Run(h.BodyType.String(), func(t *testing.T) {
			b := EncodeHeader(h)
			require.Len(t, b, HeaderSize)

			got, err := DecodeHeader(b)
			require.NoError(t, err)
			assert.Equal(t, h, got)
		})
	}
}

func TestEncodeHeader_layout(t *testing.T) {
	b := EncodeHeader(Header{SessionID: 0x01020304, BodyType: 0x0506, Length: 0x0708090A, Error: 0x0B0C})
	assert.Equal(t, []byte{
		0x04, 0x03, 0x02, 0x01,
		0x06, 0x05,
		0x0A, 0x09, 0x08, 0x07,
		0x0C, 0x0B,
	}, b)
}

func TestDecodeHeader_isPure(t *testing.T) {
	b := EncodeHeader(Header{SessionID: 42, BodyType: BodyTypeTestRequest, Length: 20})
	snapshot := append([]byte(nil), b...)

	first, err := DecodeHeader(b)
	require.NoError(t, err)
	second, err := DecodeHeader(b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, b)
}

func TestDecodeHeader_errors(t *testing.T) {
	t.Run("short buffer", func(t *testing.T) {
		_, err := DecodeHeader(make([]byte, HeaderSize-1))
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("zero body type", func(t *testing.T) {
		b := EncodeHeader(Header{SessionID: 1, BodyType: BodyTypeNone})
		_, err := DecodeHeader(b)
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("body type above max", func(t *testing.T) {
		b := EncodeHeader(Header{SessionID: 1, BodyType: MaxBodyType + 1})
		_, err := DecodeHeader(b)
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("length above max", func(t *testing.T) {
		b := EncodeHeader(Header{SessionID: 1, BodyType: BodyTypeConnect, Length: MaxPayloadLength + 1})
		_, err := DecodeHeader(b)
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("unknown but in-range body type decodes", func(t *testing.T) {
		b := EncodeHeader(Header{SessionID: 1, BodyType: 0x0100})
		h, err := DecodeHeader(b)
		require.NoError(t, err)
		assert.Equal(t, BodyType(0x0100), h.BodyType)
		assert.Equal(t, "BODY_TYPE_256", h.BodyType.String())
	})
}

func TestErrorCode_mapping(t *testing.T) {
	sentinels := []error{
		ErrInvalidHeader,
		ErrInvalidSessionData,
		ErrNotImplementHandler,
		ErrDuplicateSession,
		ErrSessionConnectFail,
	}

	for _, sentinel := range sentinels {
		code := CodeOf(sentinel)
		assert.NotEqual(t, ErrorCodeInternal, code, sentinel.Error())
		assert.ErrorIs(t, code.Err(), sentinel)
	}

	assert.Equal(t, ErrorCodeNone, CodeOf(nil))
	assert.NoError(t, ErrorCodeNone.Err())
	assert.Equal(t, ErrorCodeInternal, CodeOf(assert.AnError))
	assert.Error(t, ErrorCodeInternal.Err())
}
