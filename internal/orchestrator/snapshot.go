package orchestrator

import "github.com/Nubiru/bhaskara-sub000/internal/model"

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Items         map[model.ID]*model.Item `json:"items"`
	Active        []model.ID               `json:"active"`
	Completed     []model.ID               `json:"completed"`
	Failed        []model.ID               `json:"failed"`
	TotalProgress float64                  `json:"total_progress"`
}

// Event is sent to subscribers after every registry change. ID is empty
// after ResetAll; Status is empty when the entry was removed.
type Event struct {
	ID            model.ID     `json:"id,omitempty"`
	Status        model.Status `json:"status,omitempty"`
	Percentage    float64      `json:"percentage"`
	TotalProgress float64      `json:"total_progress"`
}

// Subscribe returns a channel receiving registry change events and a
// function that unsubscribes and closes it. Events are dropped when the
// buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	o.mu.Lock()
	key := o.next
	o.next++
	o.subs[key] = ch
	o.mu.Unlock()

	var once bool
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(o.subs, key)
		close(ch)
	}
}
