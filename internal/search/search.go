// Package search runs web searches for scheduled tasks: SerpAPI first when a
// key is configured, DuckDuckGo's HTML endpoint as the fallback.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utestwalter/Mila/pkg/logx"
)

type Result struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

type Results []Result

func (r Results) Empty() bool { return len(r) == 0 }

// Markdown renders one "[title](link)" line per result.
func (r Results) Markdown() string {
	lines := make([]string, 0, len(r))
	for _, it := range r {
		lines = append(lines, fmt.Sprintf("[%s](%s)", it.Title, it.Link))
	}
	return strings.Join(lines, "\n")
}

// Provider is one search backend. An empty Results with a nil error means
// the backend answered but found nothing.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (Results, error)
}

type Config struct {
	SerpAPIKey    string
	SerpAPIURL    string
	DuckDuckGoURL string
	Timeout       time.Duration
	MaxResults    int
	UserAgent     string
}

func (c Config) withDefaults() Config {
	if c.SerpAPIURL == "" {
		c.SerpAPIURL = "https://serpapi.com/search.json"
	}
	if c.DuckDuckGoURL == "" {
		c.DuckDuckGoURL = "https://html.duckduckgo.com/html/"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0"
	}
	return c
}

var ErrNoProviders = errors.New("search: no providers configured")

// Chain tries providers in order and returns the first non-empty answer.
// Concurrent searches for the same query share one backend round trip.
type Chain struct {
	providers []Provider
	log       logx.Logger
	group     singleflight.Group
}

// New builds the default chain from cfg.
func New(cfg Config, log logx.Logger) *Chain {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.Timeout}
	var ps []Provider
	if strings.TrimSpace(cfg.SerpAPIKey) != "" {
		ps = append(ps, NewSerpAPI(cfg, client))
	}
	ps = append(ps, NewDuckDuckGo(cfg, client))
	return NewChain(log, ps...)
}

func NewChain(log logx.Logger, providers ...Provider) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{providers: providers, log: log.With(logx.String("comp", "search"))}
}

// Search returns the first provider's non-empty results. When every provider
// fails, the last error is returned; when they all come back empty, the
// result is empty with a nil error.
func (c *Chain) Search(ctx context.Context, query string) (Results, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search: empty query")
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}
	v, err, shared := c.group.Do(query, func() (any, error) {
		return c.search(ctx, query)
	})
	if shared {
		c.log.Debug("search coalesced", logx.String("query", query))
	}
	if err != nil {
		return nil, err
	}
	return v.(Results), nil
}

func (c *Chain) search(ctx context.Context, query string) (Results, error) {
	var lastErr error
	failed := 0
	for _, p := range c.providers {
		start := time.Now()
		res, err := p.Search(ctx, query)
		if err != nil {
			failed++
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			c.log.Warn("search provider failed", logx.String("provider", p.Name()), logx.Err(err))
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		c.log.Debug("search done",
			logx.String("provider", p.Name()),
			logx.Int("results", len(res)),
			logx.Duration("took", time.Since(start)))
		if !res.Empty() {
			return res, nil
		}
	}
	if failed == len(c.providers) {
		return nil, lastErr
	}
	return Results{}, nil
}
