package workflow

import (
	"sync"

	"grfpatch/internal/download"
)

const defaultSubscriptionBuffer = 16

// Subscription receives status and progress events until Close is called.
type Subscription struct {
	hub      *eventHub
	id       int
	status   chan StatusEvent
	progress chan download.Progress
}

// Status returns the status stream. It is closed by Close.
func (s *Subscription) Status() <-chan StatusEvent {
	return s.status
}

// Progress returns the download progress stream. It is closed by Close.
func (s *Subscription) Progress() <-chan download.Progress {
	return s.progress
}

// Close detaches the subscription and closes both streams. It is safe to call
// more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}

type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]*Subscription)}
}

func (h *eventHub) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		hub:      h,
		id:       h.nextID,
		status:   make(chan StatusEvent, buffer),
		progress: make(chan download.Progress, buffer),
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *eventHub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.status)
	close(sub.progress)
}

// publishStatus never blocks. A full subscriber loses its oldest queued
// status so the latest state always arrives.
func (h *eventHub) publishStatus(event StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.status <- event:
			continue
		default:
		}
		select {
		case <-sub.status:
		default:
		}
		select {
		case sub.status <- event:
		default:
		}
	}
}

// publishProgress never blocks. A full subscriber drops the snapshot; the
// next chunk produces a fresher one.
func (h *eventHub) publishProgress(progress download.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.progress <- progress:
		default:
		}
	}
}
