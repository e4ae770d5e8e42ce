package mcp

import "sync"

// SessionRegistry maps conversion request IDs to MCP session IDs.
// Entries are added when a client starts a conversion and removed when it ends.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // requestID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a request ID with a session ID.
func (r *SessionRegistry) Register(requestID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[requestID] = sessionID
}

// SessionFor returns the session ID that started the request.
func (r *SessionRegistry) SessionFor(requestID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[requestID]
	return sid, ok
}

// Remove forgets a request.
func (r *SessionRegistry) Remove(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, requestID)
}

// RemoveSession deletes every request mapped to the session.
// Called when a session disconnects.
func (r *SessionRegistry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, rid)
		}
	}
}

// Len returns the number of tracked requests.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
