package contextstore

import "time"

// Context is a durable, owner-scoped record of opaque application state.
type Context struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"ownerId"`
	Type      string           `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Data      Value            `json:"data"`
	Metadata  map[string]Value `json:"metadata"`
}

// Clone returns a deep copy so callers never share state with the store.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Data = c.Data.Clone()
	clone.Metadata = cloneMetadata(c.Metadata)
	return &clone
}

func cloneMetadata(metadata map[string]Value) map[string]Value {
	out := make(map[string]Value, len(metadata))
	for k, v := range metadata {
		out[k] = v.Clone()
	}
	return out
}

// mergeMetadata overlays patch onto base field by field.
func mergeMetadata(base, patch map[string]Value) map[string]Value {
	out := cloneMetadata(base)
	for k, v := range patch {
		out[k] = v.Clone()
	}
	return out
}

// touch returns the next UpdatedAt for c: now, clamped so it never moves
// backwards and never precedes CreatedAt.
func (c *Context) touch(now time.Time) time.Time {
	next := now
	if next.Before(c.UpdatedAt) {
		next = c.UpdatedAt
	}
	if next.Before(c.CreatedAt) {
		next = c.CreatedAt
	}
	return next
}
