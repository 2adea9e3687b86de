// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sleep lets a goroutine wait on multiple sources of
// notification ("wakers") and find out which one fired, without a
// select statement whose cost grows with the number of sources.
//
// A Waker can be associated with at most one Sleeper at a time, but a
// Sleeper can be associated with many Wakers. Call AddWaker once per
// waker during setup, then call Fetch repeatedly; each call returns
// the id of a waker that has been asserted since the last Fetch, or
// blocks until one is.
//
//	s := sleep.Sleeper{}
//	s.AddWaker(&w1, constant1)
//	s.AddWaker(&w2, constant2)
//
//	for {
//		switch id, _ := s.Fetch(true); id {
//		case constant1:
//			// Do work triggered by w1 being asserted.
//		case constant2:
//			// Do work triggered by w2 being asserted.
//		}
//	}
//
// Notifications are edge-triggered: asserting a waker multiple times
// before it's fetched only queues it once; if work may still be
// pending when a waker's event is handled, the caller should
// re-Assert it.
package sleep

import "sync"

// Sleeper lets a single goroutine wait on notifications from any
// number of registered Wakers. Only one goroutine may call Fetch on a
// given Sleeper at a time.
type Sleeper struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ready   []int
	queued  map[int]bool
	wakers  map[int]*Waker
	done    bool
}

func (s *Sleeper) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
		s.queued = make(map[int]bool)
		s.wakers = make(map[int]*Waker)
	}
}

// AddWaker associates w with this sleeper. id is the value Fetch
// returns when w is the waker that woke the sleeper up.
func (s *Sleeper) AddWaker(w *Waker, id int) {
	s.mu.Lock()
	s.init()
	s.wakers[id] = w
	s.mu.Unlock()

	w.mu.Lock()
	w.sleeper = s
	w.id = id
	asserted := w.asserted
	w.mu.Unlock()

	if asserted {
		s.enqueue(id)
	}
}

// Fetch returns the id of a waker that has been asserted since the
// last call to Fetch. If none is immediately available and block is
// true, it waits until one is; if block is false, it returns ok=false
// immediately.
func (s *Sleeper) Fetch(block bool) (id int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	for {
		for len(s.ready) == 0 {
			if !block || s.done {
				return -1, false
			}
			s.cond.Wait()
		}

		id = s.ready[0]
		s.ready = s.ready[1:]
		s.queued[id] = false
		// Fetching consumes the assertion so a later Assert queues the
		// waker again; a waker cleared while queued is skipped.
		if w := s.wakers[id]; w != nil && !w.Clear() {
			continue
		}
		return id, true
	}
}

// Done marks the sleeper as no longer in use. Wakers that fire after
// this call are silently dropped instead of queued.
func (s *Sleeper) Done() {
	s.mu.Lock()
	s.init()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Sleeper) enqueue(id int) {
	s.mu.Lock()
	s.init()
	if !s.done && !s.queued[id] {
		s.queued[id] = true
		s.ready = append(s.ready, id)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Waker is a source of wake-up notifications for a Sleeper. It can be
// associated with at most one Sleeper at a time.
type Waker struct {
	mu       sync.Mutex
	sleeper  *Sleeper
	id       int
	asserted bool
}

// Assert puts the waker in the asserted state, waking its associated
// sleeper (if any) up. Repeated calls before the sleeper fetches it
// are coalesced into a single notification.
func (w *Waker) Assert() {
	w.mu.Lock()
	already := w.asserted
	w.asserted = true
	s := w.sleeper
	id := w.id
	w.mu.Unlock()

	if !already && s != nil {
		s.enqueue(id)
	}
}

// Clear moves the waker back to the non-asserted state and reports
// whether it was asserted before the call.
func (w *Waker) Clear() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.asserted
	w.asserted = false
	return was
}

// IsAsserted reports whether the waker is currently asserted.
func (w *Waker) IsAsserted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.asserted
}
