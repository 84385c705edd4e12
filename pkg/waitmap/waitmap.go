// Package waitmap provides an id-keyed wait/notify registry. A waiter parks
// on a key until another goroutine notifies that key, optionally handing over
// a payload, or until a timeout elapses. Keys can also be held up front so a
// notification arriving before anyone waits is not lost.
//
// Typical usage:
//
//	wm := waitmap.New[string]()
//
//	// requester side
//	wm.Hold(id)
//	sendRequest(id)
//	payload, ok := wm.Wait(ctx, id, 5*time.Second)
//	if !ok {
//	    wm.Forget(id) // nobody answered
//	}
//
//	// responder side
//	wm.Notify(id, payload)
//
// The package is intentionally minimal: no queueing, no replay. A Notify
// wakes everyone currently parked on the key and removes the entry; a waiter
// arriving afterwards starts a fresh round.
package waitmap

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	done     chan struct{}
	payload  any
	waiters  int
	held     bool
	notified bool
}

// Map is a registry of keyed wait entries. It is safe for concurrent use.
// The mutex guards map and counter bookkeeping only; waiting happens on a
// per-entry channel outside the critical section.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty Map.
func New[K comparable]() *Map[K] {
	return &Map[K]{entries: make(map[K]*entry)}
}

// Hold registers a persistent entry for key so that a Notify arriving before
// any Wait is not dropped. Reports whether the entry was created; false means
// someone else already holds the key and the caller should Wait instead.
func (m *Map[K]) Hold(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return false
	}
	m.entries[key] = &entry{done: make(chan struct{}), held: true}
	return true
}

// Wait parks the caller on key until Notify, ctx cancellation, or timeout.
// A timeout <= 0 means no timer. If no entry exists one is created, so a
// plain Wait doubles as a subscription. The returned payload is whatever
// Notify stored (nil otherwise); ok reports whether the caller was woken by
// Notify rather than timing out or being cancelled.
func (m *Map[K]) Wait(ctx context.Context, key K, timeout time.Duration) (any, bool) {
	m.mu.Lock()
	e, exists := m.entries[key]
	if !exists {
		e = &entry{done: make(chan struct{})}
		m.entries[key] = e
	}
	e.waiters++
	m.mu.Unlock()

	var timer *time.Timer
	var timeout2 <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeout2 = timer.C
	}

	woken := false
	select {
	case <-e.done:
		woken = true
	case <-ctx.Done():
	case <-timeout2:
	}

	m.mu.Lock()
	e.waiters--
	// Notify usually removes the entry itself; clean up here when we were
	// the last waiter and either the round completed (a buffered held entry
	// we just consumed) or it is still pending and nobody holds the key.
	// A pending held entry stays until its holder calls Notify or Forget.
	if e.waiters == 0 {
		if cur, ok := m.entries[key]; ok && cur == e && (woken || !e.held) {
			delete(m.entries, key)
		}
	}
	payload := e.payload
	m.mu.Unlock()

	return payload, woken
}

// Notify stores payload on key's entry, wakes all current waiters, and
// removes the entry. A held entry nobody waits on yet is kept with the
// payload buffered so its holder's Wait returns immediately. Reports whether
// an entry existed; false means the notification had nobody to deliver to
// and was dropped.
func (m *Map[K]) Notify(key K, payload any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists {
		return false
	}
	if !e.notified {
		e.notified = true
		e.payload = payload
		close(e.done)
	}
	if e.held && e.waiters == 0 {
		return true
	}
	delete(m.entries, key)
	return true
}

// Forget removes a held entry without waking anyone. Used by a holder whose
// wait timed out, or one that is done with the key and never consumed a
// buffered notification; a Notify racing past this point finds no entry and
// drops its payload. Forgetting an unknown key is a no-op.
func (m *Map[K]) Forget(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.entries[key]; exists && e.waiters == 0 {
		delete(m.entries, key)
	}
}

// Waiting returns the number of goroutines currently parked on key.
func (m *Map[K]) Waiting(key K) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.entries[key]; exists {
		return e.waiters
	}
	return 0
}

// Len returns the number of live entries.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
