package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Registry maps URL schemes to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry returns a registry holding clients under their schemes.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client)}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds c under each of its schemes, replacing earlier clients.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range c.Schemes() {
		r.clients[strings.ToLower(s)] = c
	}
}

// Lookup returns the client serving rawURL's scheme.
func (r *Registry) Lookup(rawURL string) (Client, error) {
	scheme := Scheme(rawURL)
	if scheme == "" {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, rawURL)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return c, nil
}

// Schemes returns the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for s := range r.clients {
		out = append(out, s)
	}
	return out
}

// Close closes every distinct client once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := make(map[Client]bool)
	var errs []error
	for _, c := range r.clients {
		if closed[c] {
			continue
		}
		closed[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scheme returns the lower-case scheme of rawURL, or "" if it has none.
func Scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		i := strings.Index(rawURL, ":")
		if i <= 0 {
			return ""
		}
		return strings.ToLower(rawURL[:i])
	}
	return strings.ToLower(u.Scheme)
}
