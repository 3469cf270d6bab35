package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-tcpsession/eventdriventcpclient"
	"github.com/cyberinferno/go-tcpsession/handler"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/protocol"
	"github.com/cyberinferno/go-tcpsession/utils"
)

type probeOptions struct {
	addr    string
	id      uint32
	text    string
	pings   int
	timeout time.Duration
	verbose bool
}

func probeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect as a client, echo a message and measure round trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:7000", "Server address")
	cmd.Flags().Uint32Var(&opts.id, "id", 1, "Session id to claim")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Echo text (random when empty)")
	cmd.Flags().IntVarP(&opts.pings, "pings", "n", 3, "Number of binary pings to send")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Timeout for each reply")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log protocol detail")

	return cmd
}

func runProbe(ctx context.Context, opts probeOptions) error {
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.TraceLevel
	}
	log := logger.NewConsoleLogger(os.Stderr, "probe", level)
	defer log.Close()

	registry, err := handler.NewDefaultRegistry(log)
	if err != nil {
		return err
	}

	cfg := eventdriventcpclient.DefaultEventDrivenTCPClientConfig(opts.addr, opts.id)
	cfg.HandshakeTimeout = opts.timeout
	client := eventdriventcpclient.NewEventDrivenTCPClient(cfg, registry, log)
	defer client.Close()

	packets := make(chan eventdriventcpclient.PacketReceivedEvent, 16)
	client.OnPacketReceived(func(e eventdriventcpclient.PacketReceivedEvent) { packets <- e })

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s as session %d: %w", opts.addr, opts.id, err)
	}
	fmt.Printf("connected to %s as session %d\n", opts.addr, opts.id)

	text := opts.text
	if text == "" {
		text = utils.GenerateRandomString(16)
	}

	if err := client.Send(ctx, protocol.TestRequest{ID: opts.id, RequestText: text}); err != nil {
		return err
	}

	e, err := await(ctx, packets, protocol.BodyTypeTestResponse, opts.timeout)
	if err != nil {
		return err
	}

	resp, err := protocol.TextDecode[protocol.TestResponse](e.Payload)
	if err != nil {
		return err
	}
	fmt.Printf("echo: sent %q, received %q\n", text, resp.ResponseText)

	for seq := 1; seq <= opts.pings; seq++ {
		ping := protocol.PingRequest{ID: opts.id, Sequence: uint32(seq), SentAt: time.Now().UnixNano(), Tag: "probe"}
		if err := client.Send(ctx, ping); err != nil {
			return err
		}

		e, err := await(ctx, packets, protocol.BodyTypePingResponse, opts.timeout)
		if err != nil {
			return err
		}

		pong, err := protocol.BytesToStruct[protocol.PingResponse](e.Payload)
		if err != nil {
			return err
		}
		fmt.Printf("ping seq=%d rtt=%s\n", pong.Sequence, pong.RoundTrip(time.Now()))
	}

	return client.Disconnect(ctx)
}

func await(ctx context.Context, packets <-chan eventdriventcpclient.PacketReceivedEvent, bodyType protocol.BodyType, timeout time.Duration) (eventdriventcpclient.PacketReceivedEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case e := <-packets:
			if e.Header.BodyType == bodyType {
				return e, nil
			}
		case <-deadline.C:
			return eventdriventcpclient.PacketReceivedEvent{}, fmt.Errorf("no %s within %s", bodyType, timeout)
		case <-ctx.Done():
			return eventdriventcpclient.PacketReceivedEvent{}, ctx.Err()
		}
	}
}
