package handle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateResolveRevoke(t *testing.T) {
	r := NewRegistry()

	src := []byte("pixels")
	url := r.Create(src, "image/png")
	require.True(t, strings.HasPrefix(url, Prefix))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(6), r.Bytes())

	// Mutating the source after Create does not leak into the handle
	src[0] = 'P'

	data, ct, err := r.Resolve(url)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
	assert.Equal(t, "image/png", ct)

	// Copy-on-read
	data[0] = 'X'
	again, _, err := r.Resolve(url)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(again))

	assert.True(t, r.Revoke(url))
	assert.False(t, r.Revoke(url), "second revoke reports not live")
	assert.False(t, r.Live(url))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), r.Bytes())

	_, _, err = r.Resolve(url)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestRegistry_ResolveByBareID(t *testing.T) {
	r := NewRegistry()
	url := r.Create([]byte("x"), "video/mp4")

	_, _, err := r.Resolve(ID(url))
	assert.NoError(t, err)
}

func TestRegistry_HandlesAreUnique(t *testing.T) {
	r := NewRegistry()
	a := r.Create([]byte("same"), "image/png")
	b := r.Create([]byte("same"), "image/png")
	assert.NotEqual(t, a, b)

	r.Revoke(a)
	assert.True(t, r.Live(b))
}
