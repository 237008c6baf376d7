package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"tootplan/internal/entity"
)

const defaultPDSURL = "https://bsky.social"

// BlueskyCredential is the JSON document stored (encrypted) for a connected
// Bluesky account: the handle plus an app password.
type BlueskyCredential struct {
	Identifier  string `json:"identifier"`
	AppPassword string `json:"app_password"`
}

type Bluesky struct {
	client  *http.Client
	baseURL string
}

func NewBluesky() *Bluesky {
	return &Bluesky{
		client:  &http.Client{Timeout: callTimeout},
		baseURL: defaultPDSURL,
	}
}

func (b *Bluesky) Name() string {
	return entity.PlatformBluesky
}

// NormalizeHandle strips any scheme, @ prefix, and trailing slashes from a
// user-entered handle.
func NormalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	if i := strings.Index(handle, "://"); i >= 0 {
		handle = handle[i+3:]
	}
	handle = strings.TrimPrefix(handle, "@")
	return strings.TrimRight(handle, "/")
}

type blueskySession struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

func (b *Bluesky) createSession(ctx context.Context, cred BlueskyCredential) (*blueskySession, error) {
	body := map[string]string{
		"identifier": NormalizeHandle(cred.Identifier),
		"password":   cred.AppPassword,
	}

	var session blueskySession
	if err := b.xrpc(ctx, "com.atproto.server.createSession", "", body, &session); err != nil {
		return nil, err
	}
	if session.AccessJwt == "" || session.DID == "" {
		return nil, NewError(KindUnauthorized, "Invalid handle or app password")
	}
	return &session, nil
}

func parseBlueskyCredential(credential string) (BlueskyCredential, error) {
	var cred BlueskyCredential
	if err := json.Unmarshal([]byte(credential), &cred); err != nil {
		return cred, NewError(KindUnexpected, "Malformed Bluesky credential: %v", err)
	}
	if cred.Identifier == "" || cred.AppPassword == "" {
		return cred, NewError(KindUnauthorized, "Bluesky credential is missing identifier or app password")
	}
	return cred, nil
}

func (b *Bluesky) VerifyCredential(ctx context.Context, _ Target, credential string) (*AccountInfo, error) {
	cred, err := parseBlueskyCredential(credential)
	if err != nil {
		return nil, err
	}

	session, err := b.createSession(ctx, cred)
	if err != nil {
		return nil, err
	}

	return &AccountInfo{
		AccountID:   session.DID,
		Username:    session.Handle,
		DisplayName: session.Handle,
	}, nil
}

type blueskyRecord struct {
	URI string `json:"uri"`
}

func (b *Bluesky) Publish(ctx context.Context, _ Target, credential, content string) (string, error) {
	cred, err := parseBlueskyCredential(credential)
	if err != nil {
		return "", err
	}

	session, err := b.createSession(ctx, cred)
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"repo":       session.DID,
		"collection": "app.bsky.feed.post",
		"record": map[string]interface{}{
			"$type":     "app.bsky.feed.post",
			"text":      content,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}

	var record blueskyRecord
	if err := b.xrpc(ctx, "com.atproto.repo.createRecord", session.AccessJwt, body, &record); err != nil {
		return "", err
	}
	if record.URI == "" {
		return "", NewError(KindUnexpected, "Bluesky returned a record without a URI")
	}
	// AT URI of the created post, e.g. at://did:plc:xxx/app.bsky.feed.post/yyy
	return record.URI, nil
}

type blueskyError struct {
	Message string `json:"message"`
}

func (b *Bluesky) xrpc(ctx context.Context, method, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(KindUnexpected, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return NewError(KindUnexpected, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return NewError(KindUnreachableHost, "Cannot reach Bluesky: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(KindUnreachableHost, "Failed reading Bluesky response: %v", err)
	}

	if resp.StatusCode >= 400 {
		remoteMsg := ""
		var apiErr blueskyError
		if json.Unmarshal(data, &apiErr) == nil {
			remoteMsg = apiErr.Message
		}
		return classifyHTTPStatus("Bluesky", resp.StatusCode, remoteMsg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewError(KindUnexpected, "Invalid Bluesky response: %v", err)
		}
	}
	return nil
}
