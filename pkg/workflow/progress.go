package workflow

import (
	"sync"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// subscriberBuffer bounds per-subscriber queues. A slow observer loses
// events rather than stalling the run; the cached snapshot covers catch-up.
const subscriberBuffer = 64

// Broker fans progress events out to per-case subscribers. Subscribing is
// cheap; events are best-effort and never block the workflow.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]chan contracts.ProgressEvent
	next int
}

// NewBroker builds an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan contracts.ProgressEvent)}
}

// Subscribe attaches an observer to a case. The returned cancel func detaches
// and closes the channel.
func (b *Broker) Subscribe(caseID string) (<-chan contracts.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan contracts.ProgressEvent, subscriberBuffer)
	if b.subs[caseID] == nil {
		b.subs[caseID] = make(map[int]chan contracts.ProgressEvent)
	}
	id := b.next
	b.next++
	b.subs[caseID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[caseID][id]; ok {
			delete(b.subs[caseID], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its case. Full queues
// drop the event.
func (b *Broker) Publish(ev contracts.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.CaseID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
