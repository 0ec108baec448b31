package pubprofile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

// Profile is the site metadata stored per publisher.
type Profile struct {
	Domain      string    `json:"domain"`
	SiteName    string    `json:"site_name,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Generator   string    `json:"generator,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// SiteResolverConfig controls the homepage fetch.
type SiteResolverConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// SiteResolver builds a publisher profile by fetching the site's homepage and
// extracting its metadata.
type SiteResolver struct {
	cfg   SiteResolverConfig
	clock broker.Clock
}

// NewSiteResolver constructs a SiteResolver.
func NewSiteResolver(cfg SiteResolverConfig, clock broker.Clock) *SiteResolver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SiteResolver{cfg: cfg, clock: clock}
}

// Resolve fetches the homepage of rawURL's host and assembles the profile.
// It returns an error when the fetch fails or yields no metadata at all, so
// the cache layer treats both the same way: no caching.
func (r *SiteResolver) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("no resolvable host in %q", rawURL)
	}
	scheme := parsed.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	homepage := fmt.Sprintf("%s://%s/", scheme, parsed.Host)

	profile := Profile{
		Domain:     strings.ToLower(parsed.Hostname()),
		ResolvedAt: r.clock.Now(),
	}

	collector := colly.NewCollector(colly.Async(false))
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.SetRequestTimeout(r.cfg.Timeout)

	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if profile.Title == "" {
			profile.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnHTML(`meta[name="description"]`, func(e *colly.HTMLElement) {
		if profile.Description == "" {
			profile.Description = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML(`meta[property="og:site_name"]`, func(e *colly.HTMLElement) {
		if profile.SiteName == "" {
			profile.SiteName = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML(`meta[name="generator"]`, func(e *colly.HTMLElement) {
		if profile.Generator == "" {
			profile.Generator = strings.TrimSpace(e.Attr("content"))
		}
	})

	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := r.visit(ctx, collector, homepage); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch homepage %s: %w", homepage, fetchErr)
	}
	if profile.Title == "" && profile.SiteName == "" && profile.Description == "" {
		return nil, fmt.Errorf("no metadata found at %s", homepage)
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	return payload, nil
}

// visit runs the collector on its own goroutine so the context deadline is
// honored even if the transport stalls.
func (r *SiteResolver) visit(ctx context.Context, collector *colly.Collector, homepage string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(homepage)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("homepage fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit homepage %s: %w", homepage, err)
		}
		return nil
	}
}
