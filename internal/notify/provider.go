// Package notify delivers alert e-mails through pluggable providers with
// primary/fallback selection and retry of transient failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
)

// ErrNoProvider is returned when no registered provider is configured.
var ErrNoProvider = errors.New("no configured email provider available")

// ErrNoRecipients is returned for a request without recipients.
var ErrNoRecipients = errors.New("recipient is required")

// EmailRequest is one e-mail to send.
type EmailRequest struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Provider sends e-mail through one backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, req *EmailRequest) error
	IsConfigured() bool
}

// Registry holds providers and picks one per send.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	logger.WithComponent("notify").Info().
		Str("provider", p.Name()).
		Bool("configured", p.IsConfigured()).
		Msg("registered email provider")
}

// SetPrimary selects the preferred provider.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the providers tried, in order, when the primary fails.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	r.fallback = append([]string(nil), names...)
	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// candidates returns the configured providers in the order they are tried:
// primary, then fallbacks.
func (r *Registry) candidates() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)
	for _, name := range append([]string{r.primary}, r.fallback...) {
		p, ok := r.providers[name]
		if !ok || seen[name] || !p.IsConfigured() {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

// Send delivers req through the first configured provider, falling back to
// the next on failure. The primary's error is returned when all fail.
func (r *Registry) Send(ctx context.Context, req *EmailRequest) error {
	if len(req.To) == 0 {
		return ErrNoRecipients
	}

	providers := r.candidates()
	if len(providers) == 0 {
		return ErrNoProvider
	}

	log := logger.WithComponent("notify")
	var firstErr error
	for i, p := range providers {
		err := p.Send(ctx, req)
		if err == nil {
			metrics.NotifyAttemptsTotal.WithLabelValues(p.Name(), "success").Inc()
			if i > 0 {
				log.Warn().
					Str("provider", p.Name()).
					Str("primary", providers[0].Name()).
					Msg("delivered through fallback provider")
			}
			return nil
		}

		metrics.NotifyAttemptsTotal.WithLabelValues(p.Name(), "failed").Inc()
		log.Warn().Err(err).Str("provider", p.Name()).Msg("email provider failed")
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return firstErr
}
