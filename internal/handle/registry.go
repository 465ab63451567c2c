// Package handle keeps revocable in-memory handles to binary data, the
// server-side counterpart of browser object URLs.
package handle

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix starts every handle URL
const Prefix = "blob:portfolio-cms/"

// ErrRevoked is returned when resolving a handle that was revoked or never existed
var ErrRevoked = errors.New("handle revoked")

type blob struct {
	data        []byte
	contentType string
}

// Registry owns the data behind every live handle
type Registry struct {
	mu    sync.RWMutex
	blobs map[string]blob
	bytes int64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]blob)}
}

// Create stores a copy of data and returns a new handle URL for it
func (r *Registry) Create(data []byte, contentType string) string {
	id := uuid.New().String()
	cp := make([]byte, len(data))
	copy(cp, data)

	r.mu.Lock()
	r.blobs[id] = blob{data: cp, contentType: contentType}
	r.bytes += int64(len(cp))
	r.mu.Unlock()

	return Prefix + id
}

// Resolve returns a copy of the data behind a live handle
func (r *Registry) Resolve(url string) ([]byte, string, error) {
	r.mu.RLock()
	b, ok := r.blobs[ID(url)]
	r.mu.RUnlock()
	if !ok {
		return nil, "", ErrRevoked
	}

	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, b.contentType, nil
}

// Revoke releases the data behind url. It reports whether the handle was live;
// revoking twice is harmless.
func (r *Registry) Revoke(url string) bool {
	id := ID(url)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blobs[id]
	if !ok {
		return false
	}
	delete(r.blobs, id)
	r.bytes -= int64(len(b.data))
	return true
}

// Live reports whether url still resolves
func (r *Registry) Live(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blobs[ID(url)]
	return ok
}

// Len returns the number of live handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Bytes returns the memory held by live handles
func (r *Registry) Bytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytes
}

// ID strips the handle prefix; bare ids are returned unchanged
func ID(url string) string {
	return strings.TrimPrefix(url, Prefix)
}
