package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tootplan/internal/entity"
)

const (
	mastodonAppName = "Tootplan"
	mastodonScopes  = "read:accounts write:statuses"
)

type Mastodon struct {
	client *http.Client
}

func NewMastodon() *Mastodon {
	return &Mastodon{
		client: &http.Client{Timeout: callTimeout},
	}
}

func (m *Mastodon) Name() string {
	return entity.PlatformMastodon
}

// NormalizeInstanceURL ensures the instance URL has a scheme and no trailing
// slash so stored URLs compare equal regardless of how the user typed them.
func NormalizeInstanceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

type mastodonApp struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// RegisterApp registers this application on a Mastodon instance and returns
// the client credentials for the OAuth flow.
func (m *Mastodon) RegisterApp(ctx context.Context, instanceURL, redirectURI string) (clientID, clientSecret string, err error) {
	instanceURL = NormalizeInstanceURL(instanceURL)

	body := map[string]string{
		"client_name":   mastodonAppName,
		"redirect_uris": redirectURI,
		"scopes":        mastodonScopes,
	}

	var app mastodonApp
	if err := m.postJSON(ctx, instanceURL+"/api/v1/apps", "", body, &app); err != nil {
		return "", "", err
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return "", "", NewError(KindRemoteRejected, "Mastodon instance rejected app registration")
	}
	return app.ClientID, app.ClientSecret, nil
}

// AuthURL builds the authorization URL the user visits to approve access.
// The state token is carried through for CSRF protection.
func (m *Mastodon) AuthURL(instanceURL, clientID, redirectURI, state string) string {
	instanceURL = NormalizeInstanceURL(instanceURL)

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", mastodonScopes)
	q.Set("state", state)
	return instanceURL + "/oauth/authorize?" + q.Encode()
}

type mastodonToken struct {
	AccessToken string `json:"access_token"`
}

// ExchangeCode trades an authorization code for an access token.
func (m *Mastodon) ExchangeCode(ctx context.Context, instanceURL, clientID, clientSecret, redirectURI, code string) (string, error) {
	instanceURL = NormalizeInstanceURL(instanceURL)

	body := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"redirect_uri":  redirectURI,
		"code":          code,
		"scope":         mastodonScopes,
	}

	var token mastodonToken
	if err := m.postJSON(ctx, instanceURL+"/oauth/token", "", body, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", NewError(KindUnauthorized, "Authorization code rejected by %s", instanceURL)
	}
	return token.AccessToken, nil
}

type mastodonAccount struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

func (m *Mastodon) VerifyCredential(ctx context.Context, target Target, credential string) (*AccountInfo, error) {
	instanceURL := NormalizeInstanceURL(target.InstanceURL)

	var account mastodonAccount
	if err := m.getJSON(ctx, instanceURL+"/api/v1/accounts/verify_credentials", credential, &account); err != nil {
		return nil, err
	}

	host := instanceURL
	if u, err := url.Parse(instanceURL); err == nil && u.Host != "" {
		host = u.Host
	}

	displayName := account.DisplayName
	if displayName == "" {
		displayName = account.Username
	}

	return &AccountInfo{
		AccountID:   fmt.Sprintf("%s@%s", account.Username, host),
		Username:    account.Username,
		DisplayName: displayName,
		AvatarURL:   account.Avatar,
	}, nil
}

type mastodonStatus struct {
	URL string `json:"url"`
}

func (m *Mastodon) Publish(ctx context.Context, target Target, credential, content string) (string, error) {
	instanceURL := NormalizeInstanceURL(target.InstanceURL)

	body := map[string]string{"status": content}

	var status mastodonStatus
	if err := m.postJSON(ctx, instanceURL+"/api/v1/statuses", credential, body, &status); err != nil {
		return "", err
	}
	if status.URL == "" {
		return "", NewError(KindUnexpected, "Mastodon returned a status without a URL")
	}
	return status.URL, nil
}

func (m *Mastodon) postJSON(ctx context.Context, endpoint, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(KindUnexpected, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewError(KindUnexpected, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return m.do(req, out)
}

func (m *Mastodon) getJSON(ctx context.Context, endpoint, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewError(KindUnexpected, "failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return m.do(req, out)
}

type mastodonError struct {
	Error string `json:"error"`
}

func (m *Mastodon) do(req *http.Request, out interface{}) error {
	resp, err := m.client.Do(req)
	if err != nil {
		return NewError(KindUnreachableHost, "Cannot reach Mastodon instance at %s: %v", req.URL.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(KindUnreachableHost, "Failed reading Mastodon response: %v", err)
	}

	if resp.StatusCode >= 400 {
		remoteMsg := ""
		var apiErr mastodonError
		if json.Unmarshal(data, &apiErr) == nil {
			remoteMsg = apiErr.Error
		}
		return classifyHTTPStatus("Mastodon", resp.StatusCode, remoteMsg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewError(KindUnexpected, "Invalid Mastodon response: %v", err)
		}
	}
	return nil
}

func classifyHTTPStatus(platformName string, status int, remoteMsg string) *Error {
	if remoteMsg == "" {
		remoteMsg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindUnauthorized, "%s rejected the credential: %s", platformName, remoteMsg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewError(KindRemoteRejected, "%s rejected the request: %s", platformName, remoteMsg)
	default:
		return NewError(KindUnexpected, "%s returned HTTP %d: %s", platformName, status, remoteMsg)
	}
}
