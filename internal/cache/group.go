package cache

import (
	"golang.org/x/sync/singleflight"
)

// Group de-duplicates concurrent resolutions of the same fingerprint. When
// disabled every caller runs its own resolution and the last Put wins.
type Group struct {
	enabled bool
	flight  singleflight.Group
}

// NewGroup creates a de-duplication group
func NewGroup(enabled bool) *Group {
	return &Group{enabled: enabled}
}

// Enabled reports whether concurrent callers share resolutions
func (g *Group) Enabled() bool {
	return g != nil && g.enabled
}

// Do runs fn once per in-flight key. shared reports whether the result was
// produced for another caller.
func (g *Group) Do(key string, fn func() (interface{}, error)) (v interface{}, shared bool, err error) {
	if !g.Enabled() {
		v, err = fn()
		return v, false, err
	}
	v, err, shared = g.flight.Do(key, fn)
	return v, shared, err
}
