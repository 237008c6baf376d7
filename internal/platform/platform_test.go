package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry(NewMastodon(), NewBluesky())

	adapter, err := registry.Resolve("mastodon")
	assert.NoError(t, err)
	assert.Equal(t, "mastodon", adapter.Name())

	adapter, err = registry.Resolve("bluesky")
	assert.NoError(t, err)
	assert.Equal(t, "bluesky", adapter.Name())
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	registry := NewRegistry(NewMastodon())

	_, err := registry.Resolve("threads")
	assert.Error(t, err)
	assert.Equal(t, KindUnsupportedPlatform, KindOf(err))
	assert.Contains(t, err.Error(), "threads")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnauthorized, KindOf(NewError(KindUnauthorized, "nope")))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain error")))
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{400, KindRemoteRejected},
		{422, KindRemoteRejected},
		{500, KindUnexpected},
		{503, KindUnexpected},
	}
	for _, tc := range tests {
		err := classifyHTTPStatus("Mastodon", tc.status, "")
		assert.Equal(t, tc.want, err.Kind, "status %d", tc.status)
	}
}

func TestNormalizeInstanceURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mastodon.social", "https://mastodon.social"},
		{"https://mastodon.social/", "https://mastodon.social"},
		{"http://localhost:8080", "http://localhost:8080"},
		{"  fosstodon.org  ", "https://fosstodon.org"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeInstanceURL(tc.in))
	}
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice.bsky.social", "alice.bsky.social"},
		{"@alice.bsky.social", "alice.bsky.social"},
		{"https://alice.bsky.social/", "alice.bsky.social"},
		{" @bob.example ", "bob.example"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeHandle(tc.in))
	}
}
