// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package repoclient fetches recipe bodies and volume manifests from
// the config/recipe publishing server over plain HTTP. Unlike the
// Redfish client this package is modeled on, it never retries: a
// failed listing aborts startup, and a failed per-item fetch is logged
// and skipped by the caller, matching spec.md's one-shot GET contract.
package repoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"netprov/pkg/netprov"
)

const (
	listingTimeout = 10 * time.Second
	bodyTimeout    = 20 * time.Second
)

// Client fetches recipes and volume manifests from the config server.
type Client struct {
	baseURL *url.URL
	hc      *http.Client
	logger  *log.Logger
}

// New constructs a Client addressing host:port, e.g. "10.0.0.1:2021".
func New(addr string, logger *log.Logger) (*Client, error) {
	u, err := url.Parse("http://" + addr)
	if err != nil {
		return nil, netprov.NewError(netprov.ConfigError, err)
	}
	return &Client{
		baseURL: u,
		hc:      &http.Client{},
		logger:  logger,
	}, nil
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("[repoclient] "+format, args...)
	}
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, listingTimeout)
	defer cancel()

	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return netprov.NewError(netprov.ConfigError, fmt.Errorf("decoding %s: %w", path, err))
	}
	return nil
}

func (c *Client) getText(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, bodyTimeout)
	defer cancel()

	body, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", netprov.NewError(netprov.IOError, fmt.Errorf("reading %s: %w", path, err))
	}
	return string(raw), nil
}

func (c *Client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, netprov.NewError(netprov.ConfigError, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, netprov.NewError(netprov.ExternalError, fmt.Errorf("GET %s: %w", path, err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, netprov.Errorf(netprov.ExternalError, "GET %s: unexpected status %s", path, resp.Status)
	}
	return resp.Body, nil
}

// ListRecipes lists all available recipe names, via GET /configs/.
func (c *Client) ListRecipes(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/configs/", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Recipe fetches one recipe body, via GET /configs/<name>.
func (c *Client) Recipe(ctx context.Context, name string) (string, error) {
	return c.getText(ctx, "/configs/"+url.PathEscape(name))
}

// ListManifests lists all available volume-manifest names, via GET /labels/.
func (c *Client) ListManifests(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/labels/", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Manifest fetches one volume manifest body, via GET /labels/<name>.
func (c *Client) Manifest(ctx context.Context, name string) (string, error) {
	return c.getText(ctx, "/labels/"+url.PathEscape(name))
}

// FetchAllRecipes lists recipes then fetches every body, logging and
// skipping any individual fetch failure instead of aborting, per
// spec.md §6's "a per-item fetch error logs a warning and the item is
// skipped" contract. A listing failure is still fatal and returned.
func (c *Client) FetchAllRecipes(ctx context.Context) (map[string]string, error) {
	names, err := c.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		body, err := c.Recipe(ctx, name)
		if err != nil {
			c.logf("WARNING: skipping recipe %q: %v", name, err)
			continue
		}
		out[name] = body
	}
	return out, nil
}

// FetchAllManifests is the manifest equivalent of FetchAllRecipes.
func (c *Client) FetchAllManifests(ctx context.Context) (map[string]string, error) {
	names, err := c.ListManifests(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		body, err := c.Manifest(ctx, name)
		if err != nil {
			c.logf("WARNING: skipping manifest %q: %v", name, err)
			continue
		}
		out[name] = body
	}
	return out, nil
}
