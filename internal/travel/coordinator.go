package travel

import (
	"context"
	"fmt"

	"github.com/traceline/agentbus/core"
)

// Coordinator drives the trip-planning flow. The seed request fans out
// to both experts in one message; each expert answer comes back as its
// own hop. When both answers are in, the coordinator assembles the plan
// and ends the flow by returning no follow-ups.
type Coordinator struct {
	*core.BaseAgent
}

// NewCoordinator creates the coordinator agent.
func NewCoordinator(logger core.Logger) *Coordinator {
	c := &Coordinator{BaseAgent: core.NewBaseAgent(CoordinatorName)}
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// Plan returns the assembled plan, if the flow reached it.
func (c *Coordinator) Plan() (*Plan, bool) {
	v, ok := c.State("plan")
	if !ok {
		return nil, false
	}
	return v.(*Plan), true
}

func (c *Coordinator) Process(ctx context.Context, msg core.Message) ([]core.Message, error) {
	switch payload := msg.Payload.(type) {
	case PlanRequest:
		return c.handleRequest(payload)
	case PlaceResult:
		c.SetState("places", payload)
		return c.maybeAssemble()
	case ScheduleResult:
		c.SetState("schedule", payload)
		return c.maybeAssemble()
	default:
		return nil, fmt.Errorf("unexpected payload type %T", msg.Payload)
	}
}

func (c *Coordinator) handleRequest(req PlanRequest) ([]core.Message, error) {
	if req.Destination == "" {
		return nil, fmt.Errorf("request has no destination")
	}
	if req.Days <= 0 {
		req.Days = 1
	}
	c.SetState("request", req)

	c.Logger.Info("Planning trip", map[string]interface{}{
		"destination": req.Destination,
		"days":        req.Days,
	})

	// One fan-out message; the bus opens a delivery span per expert.
	return []core.Message{
		c.Reply([]string{PlaceExpertName, ScheduleExpertName}, req),
	}, nil
}

// maybeAssemble builds the plan once both expert answers are stored.
// Returning no follow-ups is the terminal step of the flow.
func (c *Coordinator) maybeAssemble() ([]core.Message, error) {
	pv, haveP := c.State("places")
	sv, haveS := c.State("schedule")
	if !haveP || !haveS {
		return nil, nil
	}

	rv, _ := c.State("request")
	req, _ := rv.(PlanRequest)
	places := pv.(PlaceResult)
	schedule := sv.(ScheduleResult)

	plan := &Plan{
		Destination: req.Destination,
		Days:        req.Days,
		Places:      places.Places,
		Order:       schedule.Order,
		TotalHours:  schedule.TotalHours,
	}
	c.SetState("plan", plan)

	c.Logger.Info("Plan assembled", map[string]interface{}{
		"destination": plan.Destination,
		"places":      len(plan.Places),
		"hours":       plan.TotalHours,
	})
	return nil, nil
}
