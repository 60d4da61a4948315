// Package broker queues privileged requests until a human approves or
// rejects them. Each request owns a one-shot decision channel that is
// delivered to exactly once, at the moment the request leaves the queue.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// Action names a privileged operation
type Action string

const (
	ActionGenerateKeypair Action = "generateKeypair"
	ActionSignMessage     Action = "signMessage"
)

// State of a request
type State string

const (
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateExpired          State = "expired"
)

// Request is the display view of a pending request
type Request struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	Payload    any       `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Decision is delivered to a waiting caller when its request leaves the queue
type Decision struct {
	State State
}

// Approved reports whether the request may execute
func (d Decision) Approved() bool {
	return d.State == StateApproved
}

// Notifier is told about every newly enqueued request
type Notifier func(Request)

// Options configures a Broker
type Options struct {
	// Timeout expires requests left unresolved this long. Zero waits forever.
	Timeout   time.Duration
	Indicator Indicator
	Notifier  Notifier
}

type entry struct {
	req Request
	ch  chan Decision
}

// Broker holds pending requests
type Broker struct {
	opts Options

	mu      sync.Mutex
	pending map[string]*entry
	order   []string
}

// New creates an empty broker
func New(opts Options) *Broker {
	if opts.Indicator == nil {
		opts.Indicator = nopIndicator{}
	}
	b := &Broker{
		opts:    opts,
		pending: make(map[string]*entry),
	}
	b.opts.Indicator.SetPending(0)
	return b
}

// Enqueue adds a request awaiting approval
func (b *Broker) Enqueue(action Action, payload any) (*Ticket, error) {
	switch action {
	case ActionGenerateKeypair, ActionSignMessage:
	default:
		return nil, vaulterr.Validation("broker.enqueue", "Unknown action")
	}

	e := &entry{
		req: Request{
			ID:         uuid.New().String(),
			Action:     action,
			Payload:    payload,
			EnqueuedAt: time.Now().UTC(),
		},
		ch: make(chan Decision, 1),
	}

	b.mu.Lock()
	b.pending[e.req.ID] = e
	b.order = append(b.order, e.req.ID)
	n := len(b.pending)
	b.opts.Indicator.SetPending(n)
	b.mu.Unlock()

	log.Info().
		Str("request_id", e.req.ID).
		Str("action", string(action)).
		Int("pending", n).
		Msg("Request awaiting approval")

	if b.opts.Notifier != nil {
		b.opts.Notifier(e.req)
	}

	return &Ticket{Request: e.req, broker: b, ch: e.ch}, nil
}

// List returns the pending requests in enqueue order
func (b *Broker) List() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.pending[id].req)
	}
	return out
}

// Pending returns the number of requests awaiting approval
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Resolve approves or rejects request id. Unknown and already-resolved ids
// fail with a NotFound error and change nothing.
func (b *Broker) Resolve(id string, approved bool) error {
	state := StateRejected
	if approved {
		state = StateApproved
	}
	if !b.finish(id, state) {
		return vaulterr.NotFound("broker.resolve", "Request not found")
	}

	log.Info().Str("request_id", id).Str("state", string(state)).Msg("Request resolved")
	return nil
}

// finish removes id from the queue and delivers state to its waiter.
// It reports false when id is not pending.
func (b *Broker) finish(id string, state State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[id]
	if !ok {
		return false
	}
	delete(b.pending, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.opts.Indicator.SetPending(len(b.pending))

	// Capacity 1 and a single send per entry: never blocks.
	e.ch <- Decision{State: state}
	return true
}

// Ticket is the caller's handle on an enqueued request
type Ticket struct {
	Request
	broker *Broker
	ch     <-chan Decision
}

// Wait blocks until the request is resolved. If the broker has a timeout the
// request expires once it passes; if ctx ends first the request is withdrawn
// from the queue. In both cases an error is returned.
func (t *Ticket) Wait(ctx context.Context) (Decision, error) {
	var expired <-chan time.Time
	if t.broker.opts.Timeout > 0 {
		timer := time.NewTimer(time.Until(t.EnqueuedAt.Add(t.broker.opts.Timeout)))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d := <-t.ch:
		return d, nil

	case <-expired:
		if t.broker.finish(t.ID, StateExpired) {
			log.Warn().Str("request_id", t.ID).Msg("Approval request expired")
		}
		d := <-t.ch
		if d.State == StateExpired {
			return d, vaulterr.New(vaulterr.KindExpired, "broker.wait", "Approval request expired")
		}
		return d, nil

	case <-ctx.Done():
		if t.broker.finish(t.ID, StateRejected) {
			log.Info().Str("request_id", t.ID).Msg("Request withdrawn")
			<-t.ch
			return Decision{State: StateRejected}, ctx.Err()
		}
		// Resolved concurrently; the decision is already buffered.
		return <-t.ch, nil
	}
}
