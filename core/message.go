package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the sentinel recipient that addresses every registered
// agent except the sender.
const Broadcast = "broadcast"

// TraceContext is the causal handle linking a message to the span tree.
// ParentSpanID names the span that was open when the message was created:
// the root span for the seed message, the producing agent's processing
// span for everything else.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// IsZero reports whether the context has not been stamped yet.
func (tc TraceContext) IsZero() bool {
	return tc.TraceID == "" && tc.ParentSpanID == ""
}

// Message is the unit of communication between agents. A message is
// immutable once created; transformations produce new messages. The
// payload is opaque to the bus and must be JSON-serializable so it can
// be summarized on spans and logged.
type Message struct {
	ID         string       `json:"id"`
	Sender     string       `json:"sender"`
	Recipients []string     `json:"recipients"`
	Payload    interface{}  `json:"payload,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Trace      TraceContext `json:"trace_context"`
}

// NewMessage creates a message addressed to the given recipients in the
// listed order. The ID and creation timestamp are assigned exactly once.
func NewMessage(sender string, recipients []string, payload interface{}) Message {
	return Message{
		ID:         uuid.NewString(),
		Sender:     sender,
		Recipients: recipients,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewBroadcast creates a message addressed to every registered agent
// except the sender.
func NewBroadcast(sender string, payload interface{}) Message {
	return NewMessage(sender, []string{Broadcast}, payload)
}

// IsBroadcast reports whether the message uses the broadcast sentinel.
func (m Message) IsBroadcast() bool {
	return len(m.Recipients) == 1 && m.Recipients[0] == Broadcast
}

// WithTraceContext returns a copy of the message carrying the given
// trace context. The original message is not modified.
func (m Message) WithTraceContext(tc TraceContext) Message {
	m.Recipients = append([]string(nil), m.Recipients...)
	m.Trace = tc
	return m
}

// Redirect returns a new message carrying the same sender and payload
// but addressed to the given recipients, used by scheduled flows to
// retarget a message at the agent the scheduler picked. The redirected
// message gets a fresh id and timestamp so the bus message log never
// records the same id twice.
func (m Message) Redirect(recipients ...string) Message {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	m.Recipients = append([]string(nil), recipients...)
	return m
}

// Validate checks the required fields. The bus rejects messages that
// fail validation with ErrMalformedMessage before opening any span.
func (m Message) Validate() error {
	if m.ID == "" {
		return &BusError{Op: "message.Validate", Kind: "routing", Err: ErrMalformedMessage, Message: "missing id"}
	}
	if m.Sender == "" {
		return &BusError{Op: "message.Validate", Kind: "routing", ID: m.ID, Err: ErrMalformedMessage, Message: "missing sender"}
	}
	if len(m.Recipients) == 0 {
		return &BusError{Op: "message.Validate", Kind: "routing", ID: m.ID, Err: ErrMalformedMessage, Message: "missing recipients"}
	}
	for _, r := range m.Recipients {
		if r == "" {
			return &BusError{Op: "message.Validate", Kind: "routing", ID: m.ID, Err: ErrMalformedMessage, Message: "empty recipient name"}
		}
	}
	if m.CreatedAt.IsZero() {
		return &BusError{Op: "message.Validate", Kind: "routing", ID: m.ID, Err: ErrMalformedMessage, Message: "missing creation timestamp"}
	}
	return nil
}

// PayloadSize returns the serialized payload size in bytes, used as a
// span attribute instead of the payload itself.
func (m Message) PayloadSize() int {
	if m.Payload == nil {
		return 0
	}
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return 0
	}
	return len(data)
}
