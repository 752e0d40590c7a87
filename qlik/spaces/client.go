// Package spaces talks to the cloud platform's space and user APIs.
package spaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	StatusActive = "active"

	// RoleOwner is never present in the assignment list; the owner is only
	// discoverable through the space resource itself.
	RoleOwner = "owner"
)

// Space is the cloud platform's grouping of users and apps.
type Space struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// Member is one space assignment.
type Member struct {
	UserID string   `json:"assigneeId"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Status string   `json:"status"`
	Roles  []string `json:"roles"`
}

// Client is the cloud-platform capability the bearer-JWT provider needs.
// Calls are bearer-authenticated with a tenant API key or a cached
// client-credentials token.
type Client interface {
	Space(ctx context.Context, host, token, spaceID string) (*Space, error)
	Member(ctx context.Context, host, token, spaceID, userID string) (*Member, error)
	Members(ctx context.Context, host, token, spaceID string) ([]Member, error)
}

type HTTPClient struct {
	http *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPClient) Space(ctx context.Context, host, token, spaceID string) (*Space, error) {
	var space Space
	u := fmt.Sprintf("https://%s/api/v1/spaces/%s", host, url.PathEscape(spaceID))
	if err := c.getJSON(ctx, u, token, &space); err != nil {
		return nil, errors.Wrapf(err, "spaces.Space %q", spaceID)
	}
	return &space, nil
}

func (c *HTTPClient) Member(ctx context.Context, host, token, spaceID, userID string) (*Member, error) {
	members, err := c.Members(ctx, host, token, spaceID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].UserID == userID {
			return &members[i], nil
		}
	}
	return nil, errors.Errorf("spaces.Member: user %q not assigned to space %q", userID, spaceID)
}

func (c *HTTPClient) Members(ctx context.Context, host, token, spaceID string) ([]Member, error) {
	var page struct {
		Data []Member `json:"data"`
	}
	u := fmt.Sprintf("https://%s/api/v1/spaces/%s/assignments", host, url.PathEscape(spaceID))
	if err := c.getJSON(ctx, u, token, &page); err != nil {
		return nil, errors.Wrapf(err, "spaces.Members %q", spaceID)
	}
	return page.Data, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, rawURL, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("spaces http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
