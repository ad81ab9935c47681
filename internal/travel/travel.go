// Package travel is the reference multi-agent flow shipped with the
// CLI: a coordinator fans a trip request out to a place expert and a
// schedule expert, collects both answers and assembles the final plan.
// It exercises broadcast fan-out, agent sub-spans and the error
// policies end to end.
package travel

import (
	"github.com/traceline/agentbus/core"
)

// Agent names used by the demo flow.
const (
	CoordinatorName    = "coordinator"
	PlaceExpertName    = "place_expert"
	ScheduleExpertName = "schedule_expert"
)

// PlanRequest is the seed payload: what the user wants planned.
type PlanRequest struct {
	Destination string `json:"destination"`
	Days        int    `json:"days"`
}

// PlaceResult is the place expert's answer.
type PlaceResult struct {
	Destination string   `json:"destination"`
	Places      []string `json:"places"`
}

// ScheduleResult is the schedule expert's answer: the visiting order
// after route optimization.
type ScheduleResult struct {
	Destination string   `json:"destination"`
	Order       []string `json:"order"`
	TotalHours  float64  `json:"total_hours"`
}

// Plan is the assembled itinerary the coordinator produces once both
// expert answers have arrived.
type Plan struct {
	Destination string   `json:"destination"`
	Days        int      `json:"days"`
	Places      []string `json:"places"`
	Order       []string `json:"order"`
	TotalHours  float64  `json:"total_hours"`
}

// Setup registers the demo agents on the bus and returns the
// coordinator, which holds the assembled plan after the run.
func Setup(bus *core.Bus, logger core.Logger, opts ...ExpertOption) (*Coordinator, error) {
	settings := defaultExpertSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	coordinator := NewCoordinator(logger)
	place := NewPlaceExpert(logger, settings.placeDelay)
	schedule := NewScheduleExpert(logger, settings.scheduleFailures)

	for _, agent := range []core.Agent{coordinator, place, schedule} {
		if err := bus.Register(agent); err != nil {
			return nil, err
		}
	}
	return coordinator, nil
}
