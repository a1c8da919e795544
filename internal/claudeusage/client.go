package claudeusage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zsprackett/claude-usage/internal/credential"
)

const (
	DefaultBaseURL = "https://claude.ai"
	DefaultTimeout = 20 * time.Second

	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes = 1 << 20
)

// Client fetches usage from claude.ai with a browser session cookie.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Client. Every request is bounded by timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// FetchUsage lists the account's organizations and fetches the usage body of
// each. An organization whose usage request fails for a reason other than
// authentication is skipped; the call fails only when none succeed.
func (c *Client) FetchUsage(ctx context.Context, cred credential.Credential) (*RawPayload, error) {
	var orgs []organization
	if err := c.getJSON(ctx, cred, "/api/organizations", &orgs); err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, &FetchError{Kind: KindUpstream, Status: http.StatusOK, Err: errors.New("no organizations found")}
	}

	payload := &RawPayload{FetchedAt: c.now().UTC()}
	var lastErr error
	for _, org := range orgs {
		id := org.id()
		if id == "" {
			continue
		}
		var body json.RawMessage
		err := c.getJSON(ctx, cred, "/api/organizations/"+url.PathEscape(id)+"/usage", &body)
		if errors.Is(err, ErrCredentialInvalid) {
			return nil, err
		}
		if err != nil {
			c.logger.Warn("org usage fetch failed", "org", org.label(), "err", err)
			lastErr = err
			continue
		}
		payload.Orgs = append(payload.Orgs, OrgPayload{ID: id, Name: org.label(), Usage: body})
	}
	if len(payload.Orgs) == 0 {
		if lastErr == nil {
			lastErr = &FetchError{Kind: KindUpstream, Status: http.StatusOK, Err: errors.New("organizations carry no id")}
		}
		return nil, lastErr
	}
	c.logger.Debug("usage fetched", "orgs", len(payload.Orgs))
	return payload, nil
}

func (c *Client) getJSON(ctx context.Context, cred credential.Credential, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &FetchError{Kind: KindUpstream, Err: fmt.Errorf("build request: %w", err)}
	}
	req.AddCookie(&http.Cookie{Name: "sessionKey", Value: cred.Value})
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", c.baseURL+"/settings/usage")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: KindTransient, Err: fmt.Errorf("GET %s: %w", path, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("read %s: %w", path, err)}
	}

	if kind, ok := classifyStatus(resp.StatusCode, body); !ok {
		return &FetchError{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("GET %s: %s", path, snippet(body))}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &FetchError{Kind: KindUpstream, Status: resp.StatusCode, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// classifyStatus reports whether a response is usable and, if not, its
// failure class. A 200 carrying an authentication error envelope counts as
// a rejected credential.
func classifyStatus(status int, body []byte) (ErrorKind, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindCredentialInvalid, false
	case authFailureBody(body):
		return KindCredentialInvalid, false
	case status == http.StatusTooManyRequests || status >= 500:
		return KindTransient, false
	case status != http.StatusOK:
		return KindUpstream, false
	}
	return "", true
}

func authFailureBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var e apiError
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return false
	}
	switch e.Error.Type {
	case "authentication_error", "permission_error":
		return true
	}
	msg := strings.ToLower(e.Error.Message + " " + e.Error.Type)
	return strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "account_session_invalid")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	if s == "" {
		return "empty body"
	}
	return s
}
