package pubprofile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const homepageHTML = `<!DOCTYPE html>
<html>
<head>
<title>The Example Times</title>
<meta name="description" content="News from Example.">
<meta property="og:site_name" content="Example Times">
<meta name="generator" content="WordPress 6.4">
</head>
<body><h1>Front page</h1></body>
</html>`

func TestResolveExtractsHomepageMetadata(t *testing.T) {
	t.Parallel()

	var homepageHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			homepageHits++
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(homepageHTML))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewSiteResolver(SiteResolverConfig{UserAgent: "test-agent"}, fixedClock{t: now})

	// The article path must not be fetched, only the homepage.
	payload, err := resolver.Resolve(context.Background(), server.URL+"/articles/2026/story")
	require.NoError(t, err)
	require.Equal(t, 1, homepageHits)

	var profile Profile
	require.NoError(t, json.Unmarshal(payload, &profile))
	require.Equal(t, "The Example Times", profile.Title)
	require.Equal(t, "Example Times", profile.SiteName)
	require.Equal(t, "News from Example.", profile.Description)
	require.Equal(t, "WordPress 6.4", profile.Generator)
	require.Equal(t, now, profile.ResolvedAt)
}

func TestResolveErrorsWithoutMetadata(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head></head><body>bare page</body></html>"))
	}))
	defer server.Close()

	resolver := NewSiteResolver(SiteResolverConfig{}, fixedClock{t: time.Now()})
	_, err := resolver.Resolve(context.Background(), server.URL+"/story")
	require.Error(t, err)
}

func TestResolveErrorsOnFetchFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewSiteResolver(SiteResolverConfig{}, fixedClock{t: time.Now()})
	_, err := resolver.Resolve(context.Background(), server.URL+"/story")
	require.Error(t, err)
}

func TestResolveRejectsUnparsableURL(t *testing.T) {
	t.Parallel()

	resolver := NewSiteResolver(SiteResolverConfig{}, fixedClock{t: time.Now()})
	_, err := resolver.Resolve(context.Background(), "not a url")
	require.Error(t, err)
}
