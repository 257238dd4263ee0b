package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Resolver turns a background/tile pair into a gap offset. Implementations
// must not fail: on any error they return a fallback guess.
type Resolver interface {
	Resolve(ctx context.Context, background, tile PuzzleImage) GapResult
	FallbackDistance() int
}

// GapResult is a resolved gap. Err records why a fallback was used.
type GapResult struct {
	X        GapCoordinate
	Fallback bool
	Err      error
}

// RecognitionRequest is the JSON body posted to the recognition service.
type RecognitionRequest struct {
	Background string `json:"bg"`
	Front      string `json:"front"`
}

// RecognitionResponse is the service reply; {"code": 0, "result": x} on success.
type RecognitionResponse struct {
	Code   *int     `json:"code"`
	Result *float64 `json:"result"`
	Msg    string   `json:"msg,omitempty"`
}

// HTTPResolver calls the remote gap recognition service.
type HTTPResolver struct {
	endpoint    string
	client      *http.Client
	fallbackMin int
	fallbackMax int
	logger      *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHTTPResolver creates a resolver for cfg.ServiceEndpoint. rng may be nil.
func NewHTTPResolver(cfg Config, rng *rand.Rand, logger *logrus.Logger) *HTTPResolver {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	timeout := cfg.ServiceTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResolver{
		endpoint:    cfg.ServiceEndpoint,
		client:      &http.Client{Timeout: timeout},
		fallbackMin: cfg.FallbackMin,
		fallbackMax: cfg.FallbackMax,
		logger:      logger,
		rng:         rng,
	}
}

// Resolve asks the service for the gap and falls back to a random offset in
// [FallbackMin, FallbackMax] on any failure.
func (r *HTTPResolver) Resolve(ctx context.Context, background, tile PuzzleImage) GapResult {
	r.logger.WithFields(logrus.Fields{
		"bg_kb":   background.SizeKB(),
		"tile_kb": tile.SizeKB(),
	}).Info("Calling gap recognition service")

	resp, err := r.Probe(ctx, background, tile)
	if err == nil {
		switch {
		case resp.Code == nil || *resp.Code != 0:
			err = newError(KindMalformedResponse, "recognize", fmt.Errorf("service returned error: %s", describeCode(resp)))
		case resp.Result == nil:
			err = newError(KindMalformedResponse, "recognize", fmt.Errorf("response has no result field"))
		}
	}
	if err != nil {
		gap := GapCoordinate(r.FallbackDistance())
		r.logger.WithError(err).WithField("gap_x", int(gap)).Warn("Gap recognition failed, using fallback offset")
		return GapResult{X: gap, Fallback: true, Err: err}
	}

	gap := GapCoordinate(math.Round(*resp.Result))
	r.logger.WithField("gap_x", int(gap)).Info("Gap recognition succeeded")
	return GapResult{X: gap}
}

// Probe posts both images and returns the decoded reply without judging its
// code. Transport and decoding failures come back classified.
func (r *HTTPResolver) Probe(ctx context.Context, background, tile PuzzleImage) (*RecognitionResponse, error) {
	body, err := json.Marshal(RecognitionRequest{
		Background: background.DataURI(),
		Front:      tile.DataURI(),
	})
	if err != nil {
		return nil, newError(KindMalformedResponse, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindTransientNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, newError(KindTransientNetwork, "post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindTransientNetwork, "post", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransientNetwork, "read body", err)
	}

	var out RecognitionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, newError(KindMalformedResponse, "decode body", err)
	}
	return &out, nil
}

// FallbackDistance draws a uniform offset from the configured range.
func (r *HTTPResolver) FallbackDistance() int {
	lo, hi := r.fallbackMin, r.fallbackMax
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.rng.Intn(hi-lo+1)
}

func describeCode(resp *RecognitionResponse) string {
	code := "missing"
	if resp.Code != nil {
		code = fmt.Sprintf("%d", *resp.Code)
	}
	if resp.Msg != "" {
		return fmt.Sprintf("code=%s msg=%s", code, resp.Msg)
	}
	return "code=" + code
}
