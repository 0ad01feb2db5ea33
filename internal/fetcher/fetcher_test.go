package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/domain"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <item>
      <title>First item</title>
      <link>https://example.org/a</link>
      <description>Body A</description>
      <pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second item</title>
      <link>https://example.org/b</link>
      <description>Body B</description>
    </item>
  </channel>
</rss>`

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <title>Atom entry</title>
    <link href="https://example.org/atom-1"/>
    <summary>Atom summary</summary>
    <updated>2025-01-06T10:00:00Z</updated>
  </entry>
</feed>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newClient(timeout time.Duration) *Client {
	return New(config.FetchConfig{Timeout: timeout}, testLogger())
}

func staticSource(url string) domain.Source {
	return domain.Source{Slug: "test", URL: url, Platform: domain.PlatformNews}
}

func TestFetch_RSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	items, err := newClient(5*time.Second).Fetch(context.Background(), staticSource(srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Feed order is preserved.
	assert.Equal(t, "First item", items[0].Title)
	assert.Equal(t, "https://example.org/a", items[0].Link)
	assert.Equal(t, "Body A", items[0].Body)
	require.NotNil(t, items[0].PublishedAt)
	assert.Nil(t, items[1].PublishedAt)
}

func TestFetch_Atom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomBody))
	}))
	defer srv.Close()

	items, err := newClient(5*time.Second).Fetch(context.Background(), staticSource(srv.URL))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Atom entry", items[0].Title)
	assert.Equal(t, "https://example.org/atom-1", items[0].Link)
}

func TestFetch_UnrecognizedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not a feed</body></html>"))
	}))
	defer srv.Close()

	items, err := newClient(5*time.Second).Fetch(context.Background(), staticSource(srv.URL))
	assert.ErrorIs(t, err, ErrBadShape)
	assert.Empty(t, items)
}

func TestFetch_GatewayHeaders(t *testing.T) {
	var gotUA, gotOrigin, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotOrigin = r.Header.Get("Origin")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	c := New(config.FetchConfig{GatewayBase: srv.URL, Timeout: 5 * time.Second}, testLogger())
	src := domain.Source{Slug: "tw", URL: "/twitter/user/example", Platform: domain.PlatformTwitter, IsTemplated: true}

	_, err := c.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Equal(t, srv.URL, gotOrigin)
	assert.Equal(t, srv.URL+"/", gotReferer)
}

func TestFetch_ForbiddenFromGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(config.FetchConfig{GatewayBase: srv.URL, Timeout: 5 * time.Second}, testLogger())
	src := domain.Source{Slug: "tw", URL: "/twitter/user/example", IsTemplated: true}

	_, err := c.Fetch(context.Background(), src)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newClient(50 * time.Millisecond).Fetch(context.Background(), staticSource(srv.URL))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetch_TemplatedWithoutGateway(t *testing.T) {
	c := newClient(time.Second)
	src := domain.Source{Slug: "tw", URL: "/twitter/user/example", IsTemplated: true}

	_, err := c.Fetch(context.Background(), src)
	assert.Error(t, err)
}
