package event

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/karolcichosz/investment-plans-design/internal/model"
)

// Topic names.
const (
	TopicPlanEvents    = "plan-events"
	TopicPlanCommands  = "plan-commands"
	TopicCashEvents    = "cash-events"
	TopicOrderFilled   = "order-filled"
	TopicOrderCommands = "order-commands"
	TopicFallback      = "events"
)

// DefaultRoutes maps each known event type to its topic.
func DefaultRoutes() map[string]string {
	return map[string]string{
		model.EventTypePlanCreated:        TopicPlanEvents,
		model.EventTypeExecutePlan:        TopicPlanCommands,
		model.EventTypeCashBalanceUpdated: TopicCashEvents,
		model.EventTypeOrderFilled:        TopicOrderFilled,
		model.EventTypeOrderCommand:       TopicOrderCommands,
		model.EventTypeExecutionRejected:  TopicPlanEvents,
	}
}

// Router resolves the destination topic of an event type.
type Router struct {
	routes   map[string]string
	fallback string
}

// NewRouter returns a router over the default table with extra rows applied on top.
func NewRouter(extra map[string]string) *Router {
	routes := DefaultRoutes()
	for eventType, topic := range extra {
		routes[eventType] = topic
	}

	return &Router{routes: routes, fallback: TopicFallback}
}

type routesFile struct {
	Fallback string            `yaml:"fallback"`
	Routes   map[string]string `yaml:"routes"`
}

// LoadRouter builds a router from the default table and the YAML file at path.
// An empty path yields the default router.
//
//	fallback: events
//	routes:
//	  PlanArchived: plan-events
func LoadRouter(path string) (*Router, error) {
	if path == "" {
		return NewRouter(nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	return parseRouter(raw)
}

func parseRouter(raw []byte) (*Router, error) {
	var file routesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	r := NewRouter(file.Routes)
	if file.Fallback != "" {
		r.fallback = file.Fallback
	}

	return r, nil
}

// Resolve returns the topic for eventType, or the fallback topic for unknown types.
func (r *Router) Resolve(eventType string) string {
	if topic, ok := r.routes[eventType]; ok {
		return topic
	}

	return r.fallback
}
