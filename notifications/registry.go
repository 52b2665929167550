package main

import (
	"context"
	"sync"
)

// Sink is one live connection that can receive notifications.
type Sink interface {
	Push(ctx context.Context, n *Notification) error
}

// Registry maps user ids to their connected sessions. One user may hold
// several sessions (multiple devices); a notification goes to all of them and
// only to them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[Sink]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[Sink]struct{})}
}

func (r *Registry) Register(userID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[Sink]struct{})
	}
	r.sessions[userID][s] = struct{}{}
}

func (r *Registry) Unregister(userID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[userID], s)
	if len(r.sessions[userID]) == 0 {
		delete(r.sessions, userID)
	}
}

// ForUser snapshots the user's sessions so pushes happen outside the lock.
func (r *Registry) ForUser(userID string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sink, 0, len(r.sessions[userID]))
	for s := range r.sessions[userID] {
		out = append(out, s)
	}
	return out
}
