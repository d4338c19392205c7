package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is published after a transition commits.
type Event struct {
	RunID  uuid.UUID `json:"run_id"`
	Kind   string    `json:"kind"`
	Step   string    `json:"step,omitempty"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Action string    `json:"action,omitempty"`
	At     time.Time `json:"at"`
}

const (
	EventRun     = "run"
	EventStep    = "step"
	EventCommand = "command"
)

const subscriberBuffer = 64

type broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

func (b *broker) subscribe(runID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan Event]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[runID], ch)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; slow subscribers miss events and re-read state.
func (b *broker) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range events {
		for ch := range b.subs[ev.RunID] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
