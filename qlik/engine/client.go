// Package engine talks to an on-prem Qlik engine: repository queries over
// the auth-query port, session queries over the session-query port.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/collabverse/authbridge/tenants"
)

// NeverPublished is the sentinel publish timestamp the engine reports for
// apps that were tagged but never published. Such apps are not served to
// end users and are excluded from tag resolution.
const NeverPublished = "1753-01-01T00:00:00.000Z"

// App is an analytics-engine application as returned by a repository query.
type App struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PublishTime string `json:"publishTime"`
}

// SessionUser is the engine's view of the user behind a session id,
// including the tenant-specific custom properties requested with the call.
type SessionUser struct {
	ID         string            `json:"userId"`
	Directory  string            `json:"userDirectory"`
	Name       string            `json:"userName"`
	Properties map[string]string `json:"properties"`
}

// Client is the on-prem engine capability the session-cookie provider needs.
type Client interface {
	// AppsByTag lists all apps carrying the given tag, including
	// never-published ones; filtering is the caller's responsibility.
	AppsByTag(ctx context.Context, tag string) ([]App, error)

	// UserBySession resolves the user behind a session id, requesting the
	// named custom properties.
	UserBySession(ctx context.Context, viewpoint, sessionID string, properties []string) (*SessionUser, error)

	// AppUsers lists the users authorized for an app.
	AppUsers(ctx context.Context, appID string) ([]SessionUser, error)

	// DeleteSession terminates a session; the returned flag reports whether
	// the engine acknowledged the termination.
	DeleteSession(ctx context.Context, viewpoint, sessionID string) (bool, error)
}

// HTTPClient implements Client against one tenant's engine endpoints.
type HTTPClient struct {
	repositoryURL string // https://{host}:{authPort}
	proxyURL      string // https://{host}:{sessionPort}
	http          *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(tenant *tenants.Tenant) *HTTPClient {
	return &HTTPClient{
		repositoryURL: fmt.Sprintf("https://%s:%d", tenant.Host, tenant.AuthPort),
		proxyURL:      fmt.Sprintf("https://%s:%d", tenant.Host, tenant.SessionPort),
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) AppsByTag(ctx context.Context, tag string) ([]App, error) {
	filter := url.QueryEscape(fmt.Sprintf("tags.name eq '%s'", tag))
	var apps []App
	if err := c.getJSON(ctx, c.repositoryURL+"/qrs/app/full?filter="+filter, &apps); err != nil {
		return nil, errors.Wrapf(err, "engine.AppsByTag %q", tag)
	}
	return apps, nil
}

func (c *HTTPClient) UserBySession(ctx context.Context, viewpoint, sessionID string, properties []string) (*SessionUser, error) {
	u := fmt.Sprintf("%s/qps/%s/session/%s", c.proxyURL, url.PathEscape(viewpoint), url.PathEscape(sessionID))
	if len(properties) > 0 {
		q := url.Values{}
		for _, p := range properties {
			q.Add("property", p)
		}
		u += "?" + q.Encode()
	}
	var user SessionUser
	if err := c.getJSON(ctx, u, &user); err != nil {
		return nil, errors.Wrap(err, "engine.UserBySession")
	}
	return &user, nil
}

func (c *HTTPClient) AppUsers(ctx context.Context, appID string) ([]SessionUser, error) {
	var users []SessionUser
	u := fmt.Sprintf("%s/qrs/app/%s/users", c.repositoryURL, url.PathEscape(appID))
	if err := c.getJSON(ctx, u, &users); err != nil {
		return nil, errors.Wrapf(err, "engine.AppUsers %q", appID)
	}
	return users, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, viewpoint, sessionID string) (bool, error) {
	key := xrfKey()
	u := fmt.Sprintf("%s/qps/%s/session/%s?xrfkey=%s", c.proxyURL, url.PathEscape(viewpoint), url.PathEscape(sessionID), key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return false, errors.Wrap(err, "engine.DeleteSession request")
	}
	req.Header.Set("X-Qlik-Xrfkey", key)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "engine.DeleteSession")
	}
	defer resp.Body.Close()

	// The proxy echoes the terminated session back on success.
	var deleted struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deleted); err != nil {
		return false, errors.Wrap(err, "engine.DeleteSession decode")
	}
	return resp.StatusCode == http.StatusOK && len(deleted.Sessions) > 0, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, out any) error {
	sep := "?"
	if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	key := xrfKey()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+sep+"xrfkey="+key, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Qlik-Xrfkey", key)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("engine http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// xrfKey returns the 16-char cross-site request forgery key the engine
// requires on every call.
func xrfKey() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
