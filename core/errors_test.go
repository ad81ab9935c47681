package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBusErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *BusError
		want string
	}{
		{
			name: "op with id",
			err:  &BusError{Op: "bus.Dispatch", Kind: "routing", ID: "worker", Err: ErrUnknownRecipient},
			want: "bus.Dispatch [worker]: unknown recipient",
		},
		{
			name: "op without id",
			err:  &BusError{Op: "orchestrator.Run", Kind: "lifecycle", Err: ErrAlreadyStarted},
			want: "orchestrator.Run: already started",
		},
		{
			name: "message only",
			err:  &BusError{Kind: "config", Message: "bad value"},
			want: "bad value",
		},
		{
			name: "kind fallback",
			err:  &BusError{Kind: "routing"},
			want: "routing error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBusErrorUnwrap(t *testing.T) {
	err := &BusError{Op: "bus.invoke", Kind: "agent", Err: ErrAgentProcessing}
	if !errors.Is(err, ErrAgentProcessing) {
		t.Error("errors.Is should see through BusError")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var busErr *BusError
	if !errors.As(wrapped, &busErr) {
		t.Fatal("errors.As should find the BusError")
	}
	if busErr.Op != "bus.invoke" {
		t.Errorf("unexpected op %q", busErr.Op)
	}
}

func TestErrorClassification(t *testing.T) {
	delivery := &BusError{Op: "bus.Dispatch", Err: ErrUnknownRecipient}
	if !IsDeliveryError(delivery) {
		t.Error("unknown recipient is a delivery error")
	}
	if IsRecorderUsageError(delivery) {
		t.Error("unknown recipient is not a recorder usage error")
	}

	usage := &BusError{Op: "recorder.EndSpan", Err: ErrDoubleClose}
	if !IsRecorderUsageError(usage) {
		t.Error("double close is a recorder usage error")
	}
	if IsDeliveryError(usage) {
		t.Error("double close is not a delivery error")
	}

	config := fmt.Errorf("context: %w", ErrInvalidConfiguration)
	if !IsConfigurationError(config) {
		t.Error("wrapped configuration error not detected")
	}
}

func TestSentinelMessages(t *testing.T) {
	// Error text is part of the exported surface; spans carry it.
	for _, err := range []error{
		ErrUnknownRecipient, ErrMalformedMessage, ErrAgentProcessing,
		ErrDoubleClose, ErrIncompleteRun, ErrMaxStepsExceeded,
	} {
		if strings.TrimSpace(err.Error()) == "" {
			t.Errorf("sentinel %v has empty message", err)
		}
	}
}
