// Package platform resolves configured platform names to adapters through an
// explicit registry.
package platform

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/platform/github"
	"github.com/JakeFAU/impact-crawler/internal/platform/httpjson"
	"github.com/JakeFAU/impact-crawler/internal/platform/huggingface"
	"github.com/JakeFAU/impact-crawler/internal/platform/reddit"
)

// Settings configure one adapter. Empty URLs fall back to the adapter defaults.
type Settings struct {
	Enabled           bool
	BaseURL           string
	WebURL            string
	Token             string
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxPages          int
	Timeout           time.Duration
}

// Factory builds an adapter from its settings.
type Factory func(s Settings, httpClient *http.Client, logger *zap.Logger) (impact.Adapter, error)

// Registry maps platform names to factories.
type Registry struct {
	factories map[impact.Platform]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[impact.Platform]Factory)}
}

// Default returns a registry with every built-in adapter.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(github.Name, newGitHub)
	r.MustRegister(huggingface.Name, newHuggingFace)
	r.MustRegister(reddit.Name, newReddit)
	return r
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name impact.Platform, f Factory) error {
	if name == "" {
		return errors.New("register platform: empty name")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register platform %q: already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name impact.Platform, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names lists the registered platforms, sorted.
func (r *Registry) Names() []impact.Platform {
	out := make([]impact.Platform, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build constructs the enabled adapters in name order. Configuring a platform
// that is not registered is an error wrapping impact.ErrUnknownPlatform.
func (r *Registry) Build(settings map[string]Settings, httpClient *http.Client, logger *zap.Logger) ([]impact.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	var adapters []impact.Adapter
	for _, name := range names {
		s := settings[name]
		if !s.Enabled {
			continue
		}
		factory, ok := r.factories[impact.Platform(name)]
		if !ok {
			return nil, fmt.Errorf("build platform: %w: %s (known: %v)", impact.ErrUnknownPlatform, name, r.Names())
		}
		adapter, err := factory(s, httpClient, logger.Named(name))
		if err != nil {
			return nil, fmt.Errorf("build platform %s: %w", name, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func clientFor(
	name impact.Platform,
	s Settings,
	defaultBase string,
	headers map[string]string,
	hc *http.Client,
	logger *zap.Logger,
) (*httpjson.Client, error) {
	base := s.BaseURL
	if base == "" {
		base = defaultBase
	}
	client, err := httpjson.New(httpjson.Config{
		Platform:          string(name),
		BaseURL:           base,
		Token:             s.Token,
		UserAgent:         s.UserAgent,
		Headers:           headers,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
		Timeout:           s.Timeout,
	}, hc)
	if err != nil {
		return nil, err
	}
	logger.Info("platform adapter configured",
		zap.String("base_url", client.BaseURL()),
		zap.Float64("requests_per_second", s.RequestsPerSecond),
		zap.Duration("timeout", s.Timeout),
	)
	return client, nil
}

func newGitHub(s Settings, hc *http.Client, logger *zap.Logger) (impact.Adapter, error) {
	client, err := clientFor(github.Name, s, github.DefaultBaseURL, github.Headers(), hc, logger)
	if err != nil {
		return nil, err
	}
	return github.New(client, s.WebURL, s.MaxPages), nil
}

func newHuggingFace(s Settings, hc *http.Client, logger *zap.Logger) (impact.Adapter, error) {
	client, err := clientFor(huggingface.Name, s, huggingface.DefaultBaseURL, nil, hc, logger)
	if err != nil {
		return nil, err
	}
	return huggingface.New(client, s.WebURL, logger), nil
}

func newReddit(s Settings, hc *http.Client, logger *zap.Logger) (impact.Adapter, error) {
	client, err := clientFor(reddit.Name, s, reddit.DefaultBaseURL, nil, hc, logger)
	if err != nil {
		return nil, err
	}
	return reddit.New(client, s.WebURL, s.MaxPages), nil
}
