package models

import (
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    BatchStatus
		to      BatchStatus
		wantErr bool
	}{
		// Valid transitions
		{"Received to Executing", BatchStatusReceived, BatchStatusExecuting, false},
		{"Received to Reverted", BatchStatusReceived, BatchStatusReverted, false},
		{"Executing to Draining", BatchStatusExecuting, BatchStatusDraining, false},
		{"Executing to Reverted", BatchStatusExecuting, BatchStatusReverted, false},
		{"Draining to Committed", BatchStatusDraining, BatchStatusCommitted, false},
		{"Draining to Reverted", BatchStatusDraining, BatchStatusReverted, false},

		// Invalid transitions
		{"Received to Committed", BatchStatusReceived, BatchStatusCommitted, true},
		{"Executing to Committed", BatchStatusExecuting, BatchStatusCommitted, true},
		{"Draining to Executing", BatchStatusDraining, BatchStatusExecuting, true},
		{"Committed to Reverted", BatchStatusCommitted, BatchStatusReverted, true},
		{"Reverted to Executing", BatchStatusReverted, BatchStatusExecuting, true},
		{"Unknown source", BatchStatus("paused"), BatchStatusExecuting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		state    BatchStatus
		expected bool
	}{
		{BatchStatusReceived, false},
		{BatchStatusExecuting, false},
		{BatchStatusDraining, false},
		{BatchStatusCommitted, true},
		{BatchStatusReverted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminalState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestBatchTransitionHistory(t *testing.T) {
	b := &Batch{Status: BatchStatusReceived}

	if err := b.Transition(BatchStatusExecuting, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Transition(BatchStatusCommitted, "skip"); err == nil {
		t.Fatal("expected error skipping draining")
	}
	if err := b.Transition(BatchStatusReverted, "handler failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(b.StateTransitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(b.StateTransitions))
	}
	if b.StateTransitions[1].Reason != "handler failed" {
		t.Errorf("reason = %q", b.StateTransitions[1].Reason)
	}
	if b.FinishedAt == nil {
		t.Error("FinishedAt not set on terminal state")
	}
}

func TestParseHandlerID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"ascii name", "foo", "foo", false},
		{"hex tag", "0x666f6f", "foo", false},
		{"empty", "", "", true},
		{"bad hex", "0xzz", "", true},
		{"too long", "0123456789abcdef0123456789abcdefX", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseHandlerID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHandlerID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && id.String() != tt.want {
				t.Errorf("String() = %q, want %q", id.String(), tt.want)
			}
		})
	}

	if MustHandlerID("foo").Hex() != "0x666f6f"+zeros(29) {
		t.Errorf("unexpected padding: %s", MustHandlerID("foo").Hex())
	}
}

func TestHandlerIDTextRoundTrip(t *testing.T) {
	ids := []HandlerID{
		MustHandlerID("call"),
		MustHandlerID("0x3078"),     // ASCII "0x"
		MustHandlerID("0x30786162"), // ASCII "0xab"
		MustHandlerID("0x30586162"), // ASCII "0Xab"
		MustHandlerID("0x00ff"),
		{},
	}

	for _, id := range ids {
		text, err := id.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s) error = %v", id.Hex(), err)
		}
		var got HandlerID
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != id {
			t.Errorf("round trip of %s via %q gave %s", id.Hex(), text, got.Hex())
		}
	}

	if s := MustHandlerID("0x30786162").String(); s != MustHandlerID("0x30786162").Hex() {
		t.Errorf("String() = %q, want hex form", s)
	}
}

func zeros(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += "00"
	}
	return s
}
