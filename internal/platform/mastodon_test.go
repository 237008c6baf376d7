package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMastodon_Publish(t *testing.T) {
	var gotAuth, gotStatus string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/statuses", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotStatus = body["status"]

		json.NewEncoder(w).Encode(map[string]string{
			"url": "https://social.example/@alice/112233",
		})
	}))
	defer server.Close()

	m := NewMastodon()
	url, err := m.Publish(context.Background(), Target{InstanceURL: server.URL}, "secret-token", "hello world")

	assert.NoError(t, err)
	assert.Equal(t, "https://social.example/@alice/112233", url)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "hello world", gotStatus)
}

func TestMastodon_PublishUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "The access token is invalid"})
	}))
	defer server.Close()

	m := NewMastodon()
	_, err := m.Publish(context.Background(), Target{InstanceURL: server.URL}, "bad-token", "hello")

	assert.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.Contains(t, err.Error(), "The access token is invalid")
}

func TestMastodon_PublishRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "Validation failed: Text char limit exceeded"})
	}))
	defer server.Close()

	m := NewMastodon()
	_, err := m.Publish(context.Background(), Target{InstanceURL: server.URL}, "token", strings.Repeat("x", 501))

	assert.Error(t, err)
	assert.Equal(t, KindRemoteRejected, KindOf(err))
}

func TestMastodon_PublishUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	m := NewMastodon()
	_, err := m.Publish(context.Background(), Target{InstanceURL: server.URL}, "token", "hello")

	assert.Error(t, err)
	assert.Equal(t, KindUnreachableHost, KindOf(err))
}

func TestMastodon_VerifyCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/verify_credentials", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{
			"username":     "alice",
			"display_name": "Alice",
			"avatar":       "https://social.example/avatar.png",
		})
	}))
	defer server.Close()

	m := NewMastodon()
	info, err := m.VerifyCredential(context.Background(), Target{InstanceURL: server.URL}, "secret-token")

	assert.NoError(t, err)
	host := strings.TrimPrefix(server.URL, "http://")
	assert.Equal(t, "alice@"+host, info.AccountID)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "Alice", info.DisplayName)
	assert.Equal(t, "https://social.example/avatar.png", info.AvatarURL)
}

func TestMastodon_VerifyCredentialFallsBackToUsername(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"username": "alice"})
	}))
	defer server.Close()

	m := NewMastodon()
	info, err := m.VerifyCredential(context.Background(), Target{InstanceURL: server.URL}, "token")

	assert.NoError(t, err)
	assert.Equal(t, "alice", info.DisplayName)
}

func TestMastodon_RegisterApp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/apps", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Tootplan", body["client_name"])
		assert.Equal(t, "https://app.example/callback", body["redirect_uris"])

		json.NewEncoder(w).Encode(map[string]string{
			"client_id":     "cid",
			"client_secret": "csecret",
		})
	}))
	defer server.Close()

	m := NewMastodon()
	id, secret, err := m.RegisterApp(context.Background(), server.URL, "https://app.example/callback")

	assert.NoError(t, err)
	assert.Equal(t, "cid", id)
	assert.Equal(t, "csecret", secret)
}

func TestMastodon_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "authorization_code", body["grant_type"])
		assert.Equal(t, "the-code", body["code"])

		json.NewEncoder(w).Encode(map[string]string{"access_token": "granted"})
	}))
	defer server.Close()

	m := NewMastodon()
	token, err := m.ExchangeCode(context.Background(), server.URL, "cid", "csecret", "https://app.example/callback", "the-code")

	assert.NoError(t, err)
	assert.Equal(t, "granted", token)
}

func TestMastodon_ExchangeCodeEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	m := NewMastodon()
	_, err := m.ExchangeCode(context.Background(), server.URL, "cid", "csecret", "https://app.example/callback", "the-code")

	assert.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestMastodon_AuthURL(t *testing.T) {
	m := NewMastodon()
	got := m.AuthURL("social.example", "cid", "https://app.example/callback", "state-token")

	assert.True(t, strings.HasPrefix(got, "https://social.example/oauth/authorize?"))
	assert.Contains(t, got, "client_id=cid")
	assert.Contains(t, got, "state=state-token")
	assert.Contains(t, got, "response_type=code")
}
