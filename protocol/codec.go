package protocol

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// TextEncode encodes a text packet as UTF-8 JSON.
func TextEncode[T Packet](p T) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("text encode %T: %w", p, err)
	}

	return b, nil
}

// TextDecode decodes a UTF-8 JSON payload into a T. The payload is not
// retained, so callers may recycle it afterwards.
func TextDecode[T Packet](b []byte) (T, error) {
	var p T
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("text decode %T: %w", p, err)
	}

	return p, nil
}

// StructToBytes encodes a fixed-layout packet.
func StructToBytes[T BinaryPacket](p T) ([]byte, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("binary encode %T: %w", p, err)
	}

	return b, nil
}

// BytesToStruct decodes a fixed-layout packet. PT is inferred from T:
//
//	ping, err := protocol.BytesToStruct[protocol.PingRequest](payload)
func BytesToStruct[T Packet, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](b []byte) (T, error) {
	var p T
	if err := PT(&p).UnmarshalBinary(b); err != nil {
		return p, fmt.Errorf("binary decode %T: %w", p, err)
	}

	return p, nil
}
