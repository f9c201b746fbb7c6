package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// transportFunc adapts a function to Transport
type transportFunc func(ctx context.Context, url string) ([]byte, error)

func (f transportFunc) Get(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// answer replies with a script invoking the callback named in the URL
func answer(payload string) transportFunc {
	return func(ctx context.Context, raw string) ([]byte, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%s(%s);", u.Query().Get("callback"), payload)), nil
	}
}

func newTestClient(t *testing.T, tr Transport, timeout time.Duration) *Client {
	return NewClient(Options{
		Endpoint:   "https://lookup.example/exec",
		Timeout:    timeout,
		FieldOrder: config.DefaultFieldOrder,
	}, tr, zaptest.NewLogger(t))
}

func TestLookupSuccess(t *testing.T) {
	payload := `{"ok":true,"html":"<tr><th>Timestamp</th><td>2024-01-01 10:00</td></tr><tr><th>Auto ID</th><td>X1</td></tr>"}`
	c := newTestClient(t, answer(payload), time.Second)

	res, err := c.Lookup(context.Background(), "x1")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "X1", res.Query)
	assert.Equal(t, []Field{{"Auto ID", "X1"}, {"Timestamp", "2024-01-01 10:00"}}, res.Fields)
	assert.Zero(t, c.Pending(), "callback must be deregistered")
}

func TestLookupNotFound(t *testing.T) {
	c := newTestClient(t, answer(`{"ok":true,"html":""}`), time.Second)

	res, err := c.Lookup(context.Background(), "ABC")
	require.NoError(t, err, "an empty record is not an error")
	assert.False(t, res.Found)
	assert.Empty(t, res.Fields)

	c = newTestClient(t, answer(`{"ok":true}`), time.Second)
	res, err = c.Lookup(context.Background(), "ABC")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestLookupAPIError(t *testing.T) {
	tests := []struct {
		payload string
		wantMsg string
	}{
		{`{"ok":false,"error":"sheet locked"}`, "sheet locked"},
		{`{"ok":false}`, "API Error"},
	}

	for _, tt := range tests {
		c := newTestClient(t, answer(tt.payload), time.Second)
		_, err := c.Lookup(context.Background(), "ABC")

		var le *Error
		require.ErrorAs(t, err, &le)
		assert.Equal(t, KindAPI, le.Kind)
		assert.Equal(t, tt.wantMsg, le.Message)
	}
}

func TestLookupTransportError(t *testing.T) {
	c := newTestClient(t, transportFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}), time.Second)

	_, err := c.Lookup(context.Background(), "ABC")
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Zero(t, c.Pending())
}

func TestLookupMalformedScript(t *testing.T) {
	c := newTestClient(t, transportFunc(func(ctx context.Context, url string) ([]byte, error) {
		return []byte("<html>login required</html>"), nil
	}), time.Second)

	_, err := c.Lookup(context.Background(), "ABC")
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestLookupTimeoutSettlesOnceAndIgnoresLateResponse(t *testing.T) {
	release := make(chan struct{})
	var (
		mu       sync.Mutex
		lateBody []byte
	)
	delivered := make(chan bool, 1)

	c := newTestClient(t, nil, 30*time.Millisecond)
	c.transport = transportFunc(func(ctx context.Context, raw string) ([]byte, error) {
		u, _ := url.Parse(raw)
		mu.Lock()
		lateBody = []byte(u.Query().Get("callback") + `({"ok":true,"html":"<tr><th>Auto ID</th><td>X1</td></tr>"})`)
		mu.Unlock()
		// Simulate a server that ignores cancellation and answers late
		<-release
		return nil, ctx.Err()
	})

	start := time.Now()
	res, err := c.Lookup(context.Background(), "X1")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindTimeout, le.Kind)
	assert.False(t, res.Found)
	assert.Zero(t, c.Pending())

	mu.Lock()
	body := lateBody
	mu.Unlock()
	go func() {
		ok, _ := c.HandleScript(body)
		delivered <- ok
	}()
	assert.False(t, <-delivered, "late callback must be a no-op")

	close(release)
}

func TestLookupRequestParameters(t *testing.T) {
	var got url.Values
	c := NewClient(Options{
		Endpoint: "https://lookup.example/exec?deployment=prod",
		APIKey:   "k-123",
		Timeout:  time.Second,
	}, transportFunc(func(ctx context.Context, raw string) ([]byte, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		got = u.Query()
		return []byte(got.Get("callback") + `({"ok":true,"html":""})`), nil
	}), zaptest.NewLogger(t))
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }

	_, err := c.Lookup(context.Background(), "  abc123 ")
	require.NoError(t, err)

	assert.Equal(t, "search", got.Get("action"))
	assert.Equal(t, "ABC123", got.Get("query"))
	assert.Equal(t, "1700000000123", got.Get("_ts"))
	assert.Equal(t, "k-123", got.Get("key"))
	assert.Equal(t, "prod", got.Get("deployment"))
	assert.Regexp(t, `^__scan_cb_[0-9a-f]{32}$`, got.Get("callback"))
}

func TestLookupTokensAreUnique(t *testing.T) {
	c := newTestClient(t, nil, time.Second)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := c.newToken()
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestLookupEmptyQuery(t *testing.T) {
	c := newTestClient(t, answer(`{"ok":true}`), time.Second)
	_, err := c.Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestLookupUnconfiguredEndpoint(t *testing.T) {
	c := NewClient(Options{}, answer(`{"ok":true}`), zaptest.NewLogger(t))
	_, err := c.Lookup(context.Background(), "ABC")
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestHandleScriptUnknownToken(t *testing.T) {
	c := newTestClient(t, nil, time.Second)

	ok, err := c.HandleScript([]byte(`__scan_cb_nobody({"ok":true})`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.HandleScript([]byte(`cb({not json})`))
	assert.Error(t, err)
}

func TestLookupOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cb := r.URL.Query().Get("callback")
		w.Header().Set("Content-Type", "application/javascript")
		if r.URL.Query().Get("query") == "MISSING" {
			fmt.Fprintf(w, `/**/%s({"ok":true,"html":""});`, cb)
			return
		}
		fmt.Fprintf(w, `/**/%s({"ok":true,"html":"<table><tr><th>DC</th><td>N1</td></tr><tr><th>Auto ID</th><td>%s</td></tr></table>"});`,
			cb, r.URL.Query().Get("query"))
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	c := NewClient(Options{
		Endpoint:   srv.URL,
		Timeout:    2 * time.Second,
		FieldOrder: config.DefaultFieldOrder,
	}, NewHTTPTransport(logger), logger)

	res, err := c.Lookup(context.Background(), "q-9")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []Field{{"Auto ID", "Q-9"}, {"DC", "N1"}}, res.Fields)

	res, err = c.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(zaptest.NewLogger(t)).Get(context.Background(), srv.URL)
	assert.Error(t, err)
}
