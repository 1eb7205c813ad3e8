package memenv

import (
	"sync"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Emitter is a manual mta.Source: call Emit and every live subscriber
// observes the signal. It models the host-side bridge that would sit on a
// router or history layer.
type Emitter struct {
	mu   sync.Mutex
	subs map[int]func(mta.Signal)
	next int
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]func(mta.Signal))}
}

// Subscribe registers fn and returns its cancel function.
func (e *Emitter) Subscribe(fn func(mta.Signal)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Emit delivers sig to every live subscriber, in no particular order.
func (e *Emitter) Emit(sig mta.Signal) {
	e.mu.Lock()
	subs := make([]func(mta.Signal), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(sig)
	}
}
