// Package main is socketctl, a command-line peer for a socket-dispatch server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/morezero/socket-dispatch/pkg/client"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/transport/comms"
	"github.com/morezero/socket-dispatch/pkg/transport/ws"
)

const usage = `Usage: socketctl [flags] <command> ...
       socketctl send <eventType> [payload-json]
           Send one message without waiting for a reply.
       socketctl request <eventType> <expectedEventType> [payload-json]
           Send one message and print the matching reply.

Flags:
  -transport ws|comms   Transport to the server (default ws).
  -url URL              ws://host:8080/ws or nats://host:4222.
  -subject SUBJECT      COMMS dispatch subject (comms transport only).
  -version VERSION      Protocol version declared to the server.
  -timeout DURATION     How long request waits for the reply (default 5s).
  -id REQUEST_ID        Request id to send (default: generated).
`

type options struct {
	transport string
	url       string
	subject   string
	version   string
	timeout   time.Duration
	requestID string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Print(usage)
			return
		}
		log.Fatalf("socketctl: %v", err)
	}
}

func parseArgs(args []string) (*options, []string, error) {
	fs := flag.NewFlagSet("socketctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts := &options{}
	fs.StringVar(&opts.transport, "transport", "ws", "")
	fs.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "")
	fs.StringVar(&opts.subject, "subject", "", "")
	fs.StringVar(&opts.version, "version", "", "")
	fs.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "")
	fs.StringVar(&opts.requestID, "id", "", "")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.timeout <= 0 {
		return nil, nil, fmt.Errorf("timeout must be positive")
	}
	return opts, fs.Args(), nil
}

func (o *options) dialer() (client.Dialer, error) {
	switch o.transport {
	case "ws":
		return &ws.Dialer{URL: o.url, ProtocolVersion: o.version}, nil
	case "comms":
		return &comms.Dialer{URL: o.url, Name: "socketctl", Subject: o.subject, ProtocolVersion: o.version}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (use ws or comms)", o.transport)
	}
}

// parsePayload decodes an optional JSON object given on the command line.
func parsePayload(arg string) (map[string]any, error) {
	if arg == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := envelope.Unmarshal([]byte(arg), &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, rest, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return flag.ErrHelp
	}

	var (
		eventType, expected, rawPayload string
		await                           bool
	)
	switch rest[0] {
	case "send":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("send: require <eventType> [payload-json]")
		}
		eventType = rest[1]
		if len(rest) == 3 {
			rawPayload = rest[2]
		}
	case "request":
		if len(rest) < 3 || len(rest) > 4 {
			return fmt.Errorf("request: require <eventType> <expectedEventType> [payload-json]")
		}
		eventType, expected, await = rest[1], rest[2], true
		if len(rest) == 4 {
			rawPayload = rest[3]
		}
	case "help":
		return flag.ErrHelp
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}

	payload, err := parsePayload(rawPayload)
	if err != nil {
		return err
	}
	dialer, err := opts.dialer()
	if err != nil {
		return err
	}

	c := client.New(client.Params{Dialer: dialer, DefaultTimeout: opts.timeout})
	if await {
		client.RegisterReply[map[string]any](c, expected)
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Dispose()

	msg := client.Message{EventType: eventType, RequestID: opts.requestID, Payload: payload}
	if !await {
		if err := c.Send(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s\n", eventType)
		return nil
	}

	reply, err := c.SendAndAwait(ctx, msg, expected, opts.timeout)
	if err != nil {
		return err
	}
	pretty, err := envelope.MarshalIndent(reply.Payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n%s\n", reply.EventType, reply.RequestID, pretty)
	return nil
}
