package travel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/traceline/agentbus/core"
)

// hoursPerPlace is the visit estimate used by the route calculation.
const hoursPerPlace = 2.5

// ScheduleExpert turns the destination's places into a visiting order.
// The route calculation runs inside its own child span. A configurable
// number of initial failures makes the expert useful for exercising
// abort, skip and retry behavior.
type ScheduleExpert struct {
	*core.BaseAgent
	failuresLeft atomic.Int64
}

// NewScheduleExpert creates the schedule expert. failures is how many
// invocations fail before the expert starts succeeding.
func NewScheduleExpert(logger core.Logger, failures int) *ScheduleExpert {
	s := &ScheduleExpert{BaseAgent: core.NewBaseAgent(ScheduleExpertName)}
	if logger != nil {
		s.Logger = logger
	}
	s.failuresLeft.Store(int64(failures))
	return s
}

func (s *ScheduleExpert) Process(ctx context.Context, msg core.Message) ([]core.Message, error) {
	req, ok := msg.Payload.(PlanRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
	}

	order, hours, err := s.calculateRoute(ctx, req)
	if err != nil {
		return nil, err
	}

	result := ScheduleResult{
		Destination: req.Destination,
		Order:       order,
		TotalHours:  hours,
	}
	return []core.Message{s.Reply([]string{CoordinatorName}, result)}, nil
}

// calculateRoute orders the destination's places under a child span of
// the current processing span.
func (s *ScheduleExpert) calculateRoute(ctx context.Context, req PlanRequest) (_ []string, _ float64, err error) {
	scope, _ := core.SpanScopeFrom(ctx)
	span := scope.Start("optimization.route_calculation", map[string]interface{}{
		"optimization.algorithm": "nearest_neighbor",
		"optimization.target":    req.Destination,
	})
	defer func() {
		if cerr := scope.End(span, err); cerr != nil {
			err = cerr
		}
	}()

	if s.failuresLeft.Add(-1) >= 0 {
		return nil, 0, fmt.Errorf("route calculation failed for %s: solver did not converge", req.Destination)
	}

	places, found := placeDatabase[strings.ToLower(req.Destination)]
	if !found {
		places = []string{"City Center", "Old Town", "Main Square"}
	}

	// Stand-in for a real solver: stable order, walk-time estimate.
	order := append([]string(nil), places...)
	sort.Strings(order)
	hours := float64(len(order)) * hoursPerPlace

	if span != nil {
		span.SetAttribute("optimization.waypoints", len(order))
		span.SetAttribute("optimization.total_hours", hours)
	}
	s.Logger.Debug("Route calculated", map[string]interface{}{
		"destination": req.Destination,
		"waypoints":   len(order),
	})
	return order, hours, nil
}
