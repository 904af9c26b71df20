package zoom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/noah-isme/course-automation/pkg/config"
)

const scheduledMeeting = 2

// Meeting is the subset of the Zoom meeting payload the engine needs.
type Meeting struct {
	ID        string
	JoinURL   string
	StartTime string
}

// APIError describes a non-2xx response from Zoom.
type APIError struct {
	Status  int
	Code    int64
	Message string
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom api status %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Client calls the Zoom REST API with server-to-server OAuth credentials.
type Client struct {
	cfg  config.ZoomConfig
	http *http.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient constructs a Zoom client. httpClient may be nil.
func NewClient(cfg config.ZoomConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

// CreateMeeting schedules a meeting for host starting at isoStart (RFC3339).
func (c *Client) CreateMeeting(ctx context.Context, topic, isoStart string, durationMinutes int, host string) (*Meeting, error) {
	if host == "" {
		host = c.cfg.HostEmail
	}
	if host == "" {
		host = "me"
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := `{}`
	for _, field := range []struct {
		path  string
		value interface{}
	}{
		{"topic", topic},
		{"type", scheduledMeeting},
		{"start_time", isoStart},
		{"duration", durationMinutes},
		{"timezone", "UTC"},
		{"settings.join_before_host", true},
		{"settings.waiting_room", false},
	} {
		if payload, err = sjson.Set(payload, field.path, field.value); err != nil {
			return nil, fmt.Errorf("build zoom payload: %w", err)
		}
	}

	endpoint := strings.TrimRight(c.cfg.APIBaseURL, "/") + "/users/" + url.PathEscape(host) + "/meetings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, fmt.Errorf("build zoom request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	meeting := &Meeting{
		ID:        parsed.Get("id").String(),
		JoinURL:   parsed.Get("join_url").String(),
		StartTime: parsed.Get("start_time").String(),
	}
	if meeting.ID == "" || meeting.JoinURL == "" {
		return nil, fmt.Errorf("zoom response missing id or join_url")
	}
	return meeting, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" || c.cfg.AccountID == "" {
		return "", fmt.Errorf("zoom credentials are not configured")
	}

	authURL, err := url.Parse(c.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parse zoom auth url: %w", err)
	}
	query := authURL.Query()
	query.Set("grant_type", "account_credentials")
	query.Set("account_id", c.cfg.AccountID)
	authURL.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build zoom token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	parsed := gjson.ParseBytes(body)
	token := parsed.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("zoom token response missing access_token")
	}
	ttl := time.Duration(parsed.Get("expires_in").Int()) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.token = token
	// refreshed one minute before Zoom expires it
	c.tokenExpiry = c.now().Add(ttl - time.Minute)
	return token, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zoom request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read zoom response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		parsed := gjson.ParseBytes(body)
		msg := parsed.Get("message").String()
		if msg == "" {
			msg = parsed.Get("reason").String()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Code: parsed.Get("code").Int(), Message: msg, Body: string(body)}
	}
	return body, nil
}
