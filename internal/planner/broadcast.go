package planner

import (
	"context"
	"sync"
	"time"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/logging"
)

// Signal announces planning activity to the rest of the mesh.
type Signal struct {
	Kind           string             `json:"kind"`
	GoalPlanID     string             `json:"goal_plan_id"`
	Title          string             `json:"title"`
	RequiredAgents []agents.AgentType `json:"required_agents"`
	At             time.Time          `json:"at"`
}

const (
	SignalPlanningIntent   = "planning_intent"
	SignalReplanningIntent = "replanning_intent"
)

// Broadcaster delivers signals. Implementations must not block planning.
type Broadcaster interface {
	Broadcast(ctx context.Context, s Signal)
}

// Bus is an in-process Broadcaster with buffered subscribers. A subscriber
// whose buffer is full misses the signal.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Signal
	nextID int
}

// NewBus creates a bus without subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Signal)}
}

// Subscribe returns a channel of signals and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Signal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Signal, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Broadcast implements Broadcaster.
func (b *Bus) Broadcast(_ context.Context, s Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- s:
		default:
			logging.PlannerDebug("subscriber %d dropped %s for %s", id, s.Kind, s.GoalPlanID)
		}
	}
}
