package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("req-1", "session-abc")

	sid, ok := r.SessionFor("req-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()
	_, ok := r.SessionFor("missing")
	assert.False(t, ok)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("req-1", "s1")
	r.Register("req-2", "s1")

	r.Remove("req-1")
	_, ok := r.SessionFor("req-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_RemoveSession(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("req-1", "s1")
	r.Register("req-2", "s1")
	r.Register("req-3", "s2")

	r.RemoveSession("s1")
	assert.Equal(t, 1, r.Len())
	sid, ok := r.SessionFor("req-3")
	assert.True(t, ok)
	assert.Equal(t, "s2", sid)
}
