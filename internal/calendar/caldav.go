package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Token is an OAuth 2.0 bearer token. A zero ExpiresAt means the token does
// not expire.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// Expired reports whether the token needs refreshing at now.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// AuthorizationHeader renders the token as an Authorization header value.
func (t Token) AuthorizationHeader() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return strings.TrimSpace(typ + " " + t.AccessToken)
}

// ClientConfig holds the CalDAV endpoint and OAuth credentials.
type ClientConfig struct {
	// ServerURL is the CalDAV base, CalendarID the collection under it.
	ServerURL  string
	CalendarID string

	// Token endpoint credentials for refreshing the access token. Leaving
	// TokenURL empty disables refresh; the access token is used as-is.
	TokenURL     string
	ClientID     string
	ClientSecret string

	AccessToken  string
	RefreshToken string

	Timeout time.Duration
}

// Client talks to one CalDAV calendar collection over HTTP.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	token Token
}

// NewClient creates a CalDAV client for the configured collection.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("caldav server url is required")
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("caldav calendar id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "caldav").Logger(),
		token: Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		},
	}, nil
}

// calendarQuery is the REPORT body asking for events inside a time range.
const calendarQuery = `<?xml version="1.0" encoding="utf-8"?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><C:calendar-data/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

// multistatus mirrors the DAV:multistatus response. Tags match local names
// only so servers with different namespace prefixes all parse.
type multistatus struct {
	XMLName   xml.Name `xml:"multistatus"`
	Responses []struct {
		Href     string `xml:"href"`
		Propstat []struct {
			Status string `xml:"status"`
			Prop   struct {
				CalendarData string `xml:"calendar-data"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// FetchEvents loads the events overlapping [start, end) via a calendar-query
// REPORT. Unparseable entries are skipped with a warning.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	body := fmt.Sprintf(calendarQuery, formatICalTime(start), formatICalTime(end))
	req, err := c.newRequest(ctx, "REPORT", c.collectionURL(), strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar query: unexpected status %d", resp.StatusCode)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("calendar query: decode multistatus: %w", err)
	}

	var events []Event
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if !strings.Contains(ps.Status, "200") || ps.Prop.CalendarData == "" {
				continue
			}
			for _, e := range ParseEvents(ps.Prop.CalendarData) {
				if !e.Usable() {
					c.logger.Warn().Str("href", r.Href).Msg("skipping event with missing mandatory fields")
					continue
				}
				events = append(events, e)
			}
		}
	}

	c.logger.Info().Int("count", len(events)).Msg("loaded events from calendar")
	return events, nil
}

// PutEvent writes the event to the collection under its UID. CalDAV treats a
// PUT to the event resource as create-or-replace, so the same call covers
// both the first push and later moves.
func (c *Client) PutEvent(ctx context.Context, e Event) error {
	req, err := c.newRequest(ctx, http.MethodPut, c.eventURL(e.UID), bytes.NewReader(EncodeEvent(e)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put event %s: %w", e.UID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		c.logger.Debug().
			Str("uid", e.UID).
			Time("start", e.Start).
			Time("end", e.End).
			Msg("event synced")
		return nil
	default:
		return fmt.Errorf("put event %s: unexpected status %d", e.UID, resp.StatusCode)
	}
}

// DeleteEvent removes the event resource. A missing resource is not an
// error; the desired state is already true.
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.eventURL(uid), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", uid, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete event %s: unexpected status %d", uid, resp.StatusCode)
	}
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	header, err := c.authorization(ctx)
	if err != nil {
		return nil, err
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req, nil
}

// authorization returns the Authorization header value, refreshing the
// access token first when it is missing or expired. An empty value means
// the server is used unauthenticated.
func (c *Client) authorization(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shouldRefreshLocked(time.Now()) {
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	if c.token.AccessToken == "" {
		return "", nil
	}
	return c.token.AuthorizationHeader(), nil
}

func (c *Client) shouldRefreshLocked(now time.Time) bool {
	if c.token.RefreshToken == "" || c.cfg.TokenURL == "" {
		return false
	}
	return c.token.AccessToken == "" || c.token.Expired(now)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token.RefreshToken == "" || c.cfg.TokenURL == "" {
		return fmt.Errorf("access token expired and no refresh token is configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.token.RefreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("token refresh: decode response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("token refresh: response did not contain an access token")
	}

	next := Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
	}
	if next.RefreshToken == "" {
		// Some providers only return the refresh token once.
		next.RefreshToken = c.token.RefreshToken
	}
	if next.TokenType == "" {
		next.TokenType = "Bearer"
	}
	if payload.ExpiresIn > 0 {
		next.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	c.token = next
	c.logger.Debug().Time("expires_at", next.ExpiresAt).Msg("access token refreshed")
	return nil
}

func (c *Client) collectionURL() string {
	return strings.TrimSuffix(c.cfg.ServerURL, "/") + "/" + strings.Trim(c.cfg.CalendarID, "/") + "/"
}

func (c *Client) eventURL(uid string) string {
	return c.collectionURL() + url.PathEscape(uid) + ".ics"
}
