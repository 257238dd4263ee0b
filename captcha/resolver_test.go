package captcha

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(endpoint string) *HTTPResolver {
	cfg := DefaultConfig()
	cfg.ServiceEndpoint = endpoint
	cfg.ServiceTimeout = 2 * time.Second
	return NewHTTPResolver(cfg, rand.New(rand.NewSource(1)), quietLogger())
}

func testImages(t *testing.T) (PuzzleImage, PuzzleImage) {
	return NewPuzzleImage(noisePNG(t, 10, 10, 11)), NewPuzzleImage(noisePNG(t, 4, 4, 12))
}

func TestResolveSuccess(t *testing.T) {
	bg, tile := testImages(t)

	var got RecognitionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var raw map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		got = RecognitionRequest{Background: raw["bg"], Front: raw["front"]}
		w.Write([]byte(`{"code": 0, "result": 123}`))
	}))
	defer srv.Close()

	res := testResolver(srv.URL).Resolve(context.Background(), bg, tile)

	assert.Equal(t, GapCoordinate(123), res.X)
	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err)
	assert.Equal(t, bg.DataURI(), got.Background)
	assert.Equal(t, tile.DataURI(), got.Front)
	assert.True(t, strings.HasPrefix(got.Background, "data:image/png;base64,"))
}

func TestResolveRoundsFractionalResult(t *testing.T) {
	bg, tile := testImages(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "result": 87.6}`))
	}))
	defer srv.Close()

	res := testResolver(srv.URL).Resolve(context.Background(), bg, tile)
	assert.Equal(t, GapCoordinate(88), res.X)
}

func TestResolveFallback(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
	}{
		{name: "non-zero code", status: http.StatusOK, body: `{"code": 1, "msg": "bad image"}`, wantKind: KindMalformedResponse},
		{name: "missing code", status: http.StatusOK, body: `{"result": 100}`, wantKind: KindMalformedResponse},
		{name: "missing result", status: http.StatusOK, body: `{"code": 0}`, wantKind: KindMalformedResponse},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantKind: KindTransientNetwork},
		{name: "malformed body", status: http.StatusOK, body: `not json`, wantKind: KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bg, tile := testImages(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := testResolver(srv.URL).Resolve(context.Background(), bg, tile)

			assert.True(t, res.Fallback)
			assert.GreaterOrEqual(t, int(res.X), 150)
			assert.LessOrEqual(t, int(res.X), 280)
			assert.True(t, IsKind(res.Err, tt.wantKind), "got %v", res.Err)
		})
	}
}

func TestResolveUnreachable(t *testing.T) {
	bg, tile := testImages(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := testResolver(url).Resolve(context.Background(), bg, tile)

	assert.True(t, res.Fallback)
	assert.Equal(t, KindTransientNetwork, KindOf(res.Err))
	assert.True(t, KindOf(res.Err).Recoverable())
}

func TestFallbackDistanceRange(t *testing.T) {
	r := testResolver("http://127.0.0.1:0")
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		d := r.FallbackDistance()
		require.GreaterOrEqual(t, d, 150)
		require.LessOrEqual(t, d, 280)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1)
}
