package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/socket-dispatch/pkg/connection"
)

const filterTestPrefix = "filter:filter_test"

type note struct {
	Text string
}

func TestChain_RunsInOrderAndShortCircuits(t *testing.T) {
	var calls []string
	record := func(name string, err error) Filter {
		return Func(name, func(context.Context, connection.Connection, any) error {
			calls = append(calls, name)
			return err
		})
	}

	boom := errors.New("boom")
	chain := Chain{record("a", nil), record("b", boom), record("c", nil)}

	err := chain.Run(context.Background(), connection.NewMemoryConn("x", nil), &note{})

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("%s - expected RejectedError, got %v", filterTestPrefix, err)
	}
	if rejected.Filter != "b" {
		t.Errorf("%s - rejected by %q, want b", filterTestPrefix, rejected.Filter)
	}
	if !errors.Is(err, boom) {
		t.Errorf("%s - cause not preserved: %v", filterTestPrefix, err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("%s - calls = %v, want [a b]", filterTestPrefix, calls)
	}
}

func TestChain_EmptyPasses(t *testing.T) {
	if err := (Chain{}).Run(context.Background(), connection.NewMemoryConn("x", nil), nil); err != nil {
		t.Errorf("%s - empty chain returned %v", filterTestPrefix, err)
	}
}

func TestChain_Names(t *testing.T) {
	chain := Chain{Validate(), RequireAttribute("room")}
	names := chain.Names()
	if len(names) != 2 || names[0] != "validate" || names[1] != "require_attribute(room)" {
		t.Errorf("%s - Names() = %v", filterTestPrefix, names)
	}
}

func TestTyped(t *testing.T) {
	f := Typed[note]("non_empty", func(_ context.Context, _ connection.Connection, n *note) error {
		if n.Text == "" {
			return errors.New("empty")
		}
		return nil
	})
	conn := connection.NewMemoryConn("x", nil)

	if err := f.Check(context.Background(), conn, &note{Text: "hi"}); err != nil {
		t.Errorf("%s - unexpected error: %v", filterTestPrefix, err)
	}
	if err := f.Check(context.Background(), conn, &note{}); err == nil {
		t.Errorf("%s - expected error for empty note", filterTestPrefix)
	}
	if err := f.Check(context.Background(), conn, "string"); !errors.Is(err, ErrPayloadType) {
		t.Errorf("%s - expected ErrPayloadType, got %v", filterTestPrefix, err)
	}
}
