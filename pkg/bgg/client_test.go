package bgg_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/meeplemeet/go-catalog/pkg/audit"
	"github.com/meeplemeet/go-catalog/pkg/bgg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureRecorder collects audit records synchronously for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureRecorder) Record(record audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func newTestClient(t *testing.T, baseURL, token string, recorder audit.Recorder) *bgg.Client {
	t.Helper()
	client, err := bgg.NewClient(&bgg.Config{
		BaseURL:        baseURL,
		BearerToken:    token,
		RequestTimeout: time.Second,
	}, recorder, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestClient_FetchItems(t *testing.T) {
	ctx := context.Background()

	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`<items>
  <item id="13"><name type="primary" value="Catan"/><minplayers value="3"/><maxplayers value="4"/></item>
  <item id="822"><name type="primary" value="Carcassonne"/></item>
</items>`))
	}))
	defer server.Close()

	recorder := &captureRecorder{}
	client := newTestClient(t, server.URL, "secret-token", recorder)

	items, err := client.FetchItems(ctx, []string{"13", "822", "404"})
	require.NoError(t, err)

	assert.Equal(t, "/thing", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth, "the bearer token must be forwarded upstream")

	require.Len(t, items, 2)
	assert.Equal(t, "Catan", items["13"].Name)
	assert.Equal(t, 4, items["13"].MaxPlayers)
	assert.NotContains(t, items, "404", "ids unknown upstream are simply absent")

	require.Len(t, recorder.records, 1)
	assert.Equal(t, "items", recorder.records[0].Operation)
	assert.Equal(t, 3, recorder.records[0].KeyCount)
	assert.Equal(t, "ok", recorder.records[0].Outcome)
}

func TestClient_FetchItems_EmptyIDList(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", "", nil)

	items, err := client.FetchItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items, "an empty id list performs no I/O")
}

func TestClient_Search(t *testing.T) {
	ctx := context.Background()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`<items><item id="13"><name type="primary" value="Catan"/></item></items>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "", nil)

	candidates, err := client.Search(ctx, "catan cities")
	require.NoError(t, err)

	assert.Equal(t, "catan cities", gotQuery)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Catan", candidates[0].Name)
}

func TestClient_UpstreamFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("non-success status maps to ErrUpstream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		recorder := &captureRecorder{}
		client := newTestClient(t, server.URL, "", recorder)

		_, err := client.FetchItems(ctx, []string{"13"})
		assert.ErrorIs(t, err, bgg.ErrUpstream)

		require.Len(t, recorder.records, 1)
		assert.Equal(t, "error", recorder.records[0].Outcome)
	})

	t.Run("unreachable host maps to ErrUpstream", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:1", "", nil)

		_, err := client.Search(ctx, "catan")
		assert.ErrorIs(t, err, bgg.ErrUpstream)
	})

	t.Run("unparseable payload maps to ErrUpstream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<not-items"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, "", nil)

		_, err := client.FetchItems(ctx, []string{"13"})
		assert.ErrorIs(t, err, bgg.ErrUpstream)
	})
}

func TestClient_NoAuthorizationHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`<items></items>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "", nil)

	_, err := client.Search(context.Background(), "catan")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_InvalidConfig(t *testing.T) {
	_, err := bgg.NewClient(&bgg.Config{BaseURL: ""}, nil, zerolog.Nop())
	require.Error(t, err)
}
