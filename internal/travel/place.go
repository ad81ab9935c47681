package travel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/traceline/agentbus/core"
)

// placeDatabase is the simulated external database the place expert
// queries. Lookups are case-insensitive on the destination.
var placeDatabase = map[string][]string{
	"tokyo":    {"Senso-ji Temple", "Shibuya Crossing", "Meiji Shrine", "Tsukiji Market"},
	"paris":    {"Eiffel Tower", "Louvre Museum", "Notre-Dame", "Montmartre"},
	"new york": {"Central Park", "Statue of Liberty", "Times Square", "Brooklyn Bridge"},
	"london":   {"Tower of London", "British Museum", "Westminster Abbey", "Camden Market"},
}

// PlaceExpert answers a plan request with the notable places at the
// destination. The database query runs inside its own child span so the
// external call shows up in the trace under the expert's processing
// span.
type PlaceExpert struct {
	*core.BaseAgent
	delay time.Duration
}

// NewPlaceExpert creates the place expert. delay simulates the latency
// of the database call.
func NewPlaceExpert(logger core.Logger, delay time.Duration) *PlaceExpert {
	p := &PlaceExpert{
		BaseAgent: core.NewBaseAgent(PlaceExpertName),
		delay:     delay,
	}
	if logger != nil {
		p.Logger = logger
	}
	return p
}

func (p *PlaceExpert) Process(ctx context.Context, msg core.Message) ([]core.Message, error) {
	req, ok := msg.Payload.(PlanRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
	}

	places, err := p.queryDatabase(ctx, req.Destination)
	if err != nil {
		return nil, err
	}

	result := PlaceResult{
		Destination: req.Destination,
		Places:      places,
	}
	return []core.Message{p.Reply([]string{CoordinatorName}, result)}, nil
}

// queryDatabase performs the simulated external lookup under a child
// span of the current processing span.
func (p *PlaceExpert) queryDatabase(ctx context.Context, destination string) (_ []string, err error) {
	scope, _ := core.SpanScopeFrom(ctx)
	span := scope.Start("external.place_database.query", map[string]interface{}{
		"db.system":    "place_database",
		"db.operation": "query",
		"db.statement": fmt.Sprintf("SELECT place FROM places WHERE city = %q", destination),
	})
	defer func() {
		if cerr := scope.End(span, err); cerr != nil {
			err = cerr
		}
	}()

	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	places, found := placeDatabase[strings.ToLower(destination)]
	if !found {
		// Unknown city still yields a plan; generic suggestions instead.
		places = []string{"City Center", "Old Town", "Main Square"}
	}
	out := append([]string(nil), places...)
	sort.Strings(out)

	if span != nil {
		span.SetAttribute("db.rows_returned", len(out))
	}
	p.Logger.Debug("Place database queried", map[string]interface{}{
		"destination": destination,
		"rows":        len(out),
	})
	return out, nil
}
