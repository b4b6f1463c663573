// Package brivo talks to the Brivo access-control REST API: people, group membership and
// mobile pass invitations.
package brivo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"golang.org/x/oauth2"

	"github.com/fatflowers/memberships/pkg/config"
)

const (
	defaultTimeout = 10 * time.Second
	// refresh a little before the provider expires the token
	tokenLeeway = 30 * time.Second
)

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brivo %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	cfg   config.BrivoConfig
	oauth *oauth2.Config
	// base carries the api-key header; token requests go through it too
	base *http.Client
	http *http.Client

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

func New(cfg *config.Config) *Client {
	timeout := cfg.Brivo.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := &http.Client{Timeout: timeout, Transport: apiKeyTransport{key: cfg.Brivo.APIKey, next: http.DefaultTransport}}
	c := &Client{
		cfg:  cfg.Brivo,
		base: base,
		oauth: &oauth2.Config{
			ClientID:     cfg.Brivo.ClientID,
			ClientSecret: cfg.Brivo.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.Brivo.AuthURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
	}
	c.resetTokens()
	c.http = &http.Client{Timeout: timeout, Transport: &oauth2.Transport{Base: base.Transport, Source: currentTokens{c}}}
	return c
}

// Configured reports whether calls can be made at all.
func (c *Client) Configured() bool { return c.cfg.Configured() }

// resetTokens drops the cached token; the next call runs the password grant again.
func (c *Client) resetTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, passwordGrant{c}, tokenLeeway)
}

type passwordGrant struct{ c *Client }

func (g passwordGrant) Token() (*oauth2.Token, error) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, g.c.base)
	return g.c.oauth.PasswordCredentialsToken(ctx, g.c.cfg.Username, g.c.cfg.Password)
}

type currentTokens struct{ c *Client }

func (t currentTokens) Token() (*oauth2.Token, error) {
	t.c.mu.Lock()
	src := t.c.tokens
	t.c.mu.Unlock()
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("brivo token: %w", err)
	}
	return tok, nil
}

type apiKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("api-key", t.key)
	return t.next.RoundTrip(r)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("brivo %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.resetTokens()
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("brivo %s %s: decode: %w", method, path, err)
	}
	return nil
}

// GetPerson returns nil when the person no longer exists remotely.
func (c *Client) GetPerson(ctx context.Context, id string) (*Person, error) {
	var out personPayload
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &out)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := toPerson(out)
	return &p, nil
}

// FindPersonByExternalID returns nil when no person carries the external id.
func (c *Client) FindPersonByExternalID(ctx context.Context, externalID string) (*Person, error) {
	var out listPayload[personPayload]
	q := url.Values{}
	q.Set("filter", "externalId__eq:"+externalID)
	if err := c.do(ctx, http.MethodGet, "/users?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	p := toPerson(out.Data[0])
	return &p, nil
}

func (c *Client) CreatePerson(ctx context.Context, p Person) (*Person, error) {
	var out personPayload
	if err := c.do(ctx, http.MethodPost, "/users", fromPerson(p), &out); err != nil {
		return nil, err
	}
	created := toPerson(out)
	return &created, nil
}

func (c *Client) UpdatePerson(ctx context.Context, p Person) error {
	return c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(p.ID), fromPerson(p), nil)
}

// ListPersonGroups returns the ids of every group the person belongs to.
func (c *Client) ListPersonGroups(ctx context.Context, personID string) ([]string, error) {
	var out listPayload[groupPayload]
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(personID)+"/groups", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Data))
	for _, g := range out.Data {
		ids = append(ids, formatID(g.ID))
	}
	return ids, nil
}

func (c *Client) AddPersonToGroup(ctx context.Context, groupID, personID string) error {
	return c.do(ctx, http.MethodPut, "/groups/"+url.PathEscape(groupID)+"/users/"+url.PathEscape(personID), nil, nil)
}

// RemovePersonFromGroup treats an absent membership as removed.
func (c *Client) RemovePersonFromGroup(ctx context.Context, groupID, personID string) error {
	err := c.do(ctx, http.MethodDelete, "/groups/"+url.PathEscape(groupID)+"/users/"+url.PathEscape(personID), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func passesPath(personID string) string {
	return "/users/" + url.PathEscape(personID) + "/credentials/digital-invitations"
}

func (c *Client) ListMobilePasses(ctx context.Context, personID string) ([]MobilePass, error) {
	var out listPayload[passPayload]
	if err := c.do(ctx, http.MethodGet, passesPath(personID), nil, &out); err != nil {
		return nil, err
	}
	passes := make([]MobilePass, 0, len(out.Data))
	for _, p := range out.Data {
		passes = append(passes, MobilePass{ID: formatID(p.ID), Email: p.Email, Status: strings.ToLower(p.Status)})
	}
	return passes, nil
}

func (c *Client) CreateMobilePass(ctx context.Context, personID, email string) (*MobilePass, error) {
	var out passPayload
	if err := c.do(ctx, http.MethodPost, passesPath(personID), passPayload{Email: email}, &out); err != nil {
		return nil, err
	}
	return &MobilePass{ID: formatID(out.ID), Email: out.Email, Status: strings.ToLower(out.Status)}, nil
}

// RevokeMobilePass treats an already removed invitation as revoked.
func (c *Client) RevokeMobilePass(ctx context.Context, personID, passID string) error {
	err := c.do(ctx, http.MethodDelete, passesPath(personID)+"/"+url.PathEscape(passID), nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

var Module = fx.Options(
	fx.Provide(New),
)
