// Package statusapi is the HTTP status endpoint a server-like process
// exposes and client-like processes read their bootstrap peers from.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"xdao.co/boards/diag"
)

const (
	StatusPath = "/api/status"
	InfoPath   = "/api/info"
)

// ErrUnavailable is returned when the endpoint answers with a non-200 status.
var ErrUnavailable = errors.New("statusapi: status unavailable")

// Status is the body of GET /api/status.
type Status struct {
	Multiaddrs []string `json:"multiaddrs"`
}

type Client struct {
	Base string
	HTTP *http.Client
}

func NewClient(base string) *Client {
	return &Client{Base: strings.TrimSuffix(base, "/"), HTTP: http.DefaultClient}
}

// Status fetches the server's status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.getJSON(ctx, StatusPath, &out)
	return out, err
}

// Multiaddrs returns the server's advertised multiaddrs.
func (c *Client) Multiaddrs(ctx context.Context) ([]string, error) {
	s, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return s.Multiaddrs, nil
}

// Info fetches the server's diagnostics snapshot.
func (c *Client) Info(ctx context.Context) (diag.Snapshot, error) {
	var out diag.Snapshot
	err := c.getJSON(ctx, InfoPath, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: %s", ErrUnavailable, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
