package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vrpsolver/internal/metrics"
)

const DefaultOSRMURL = "http://router.project-osrm.org"

type OSRMConfig struct {
	BaseURL     string
	Profile     string        // driving, walking, cycling
	Timeout     time.Duration // per attempt
	MaxAttempts int
	RPS         float64 // outbound request rate; 0 disables limiting
	Logger      *zap.Logger
	Client      *http.Client
}

// OSRM fetches matrices from the OSRM table service.
type OSRM struct {
	cfg     OSRMConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	backoff func(attempt int) time.Duration
}

func NewOSRM(cfg OSRMConfig) *OSRM {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOSRMURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	o := &OSRM{cfg: cfg, http: cfg.Client, log: cfg.Logger, backoff: nextBackoff}
	if o.http == nil {
		o.http = &http.Client{Timeout: cfg.Timeout}
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if cfg.RPS > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return o
}

// Profile is the routing profile the matrices are computed for.
func (o *OSRM) Profile() string { return o.cfg.Profile }

type tableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (o *OSRM) Table(ctx context.Context, coords []Coordinate) (Matrix, error) {
	if len(coords) == 0 {
		return Matrix{}, &ProviderError{Provider: "osrm", Reason: "no coordinates"}
	}
	url := o.tableURL(coords)
	var lastErr *ProviderError
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := o.backoff(attempt - 1)
			o.log.Warn("retrying osrm table", zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return Matrix{}, &ProviderError{Provider: "osrm", Reason: "canceled", Err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return Matrix{}, &ProviderError{Provider: "osrm", Reason: "rate limit wait", Err: err}
			}
		}
		m, perr, retry := o.fetch(ctx, url, len(coords))
		if perr == nil {
			metrics.MatrixRequests.WithLabelValues("osrm", "ok").Inc()
			return m, nil
		}
		metrics.MatrixRequests.WithLabelValues("osrm", "error").Inc()
		lastErr = perr
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return Matrix{}, lastErr
}

func (o *OSRM) tableURL(coords []Coordinate) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatFloat(c.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lat, 'f', -1, 64)
	}
	return fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance,duration", o.cfg.BaseURL, o.cfg.Profile, strings.Join(parts, ";"))
}

// fetch performs one attempt. retry is set for network failures, 429 and 5xx.
func (o *OSRM) fetch(ctx context.Context, url string, n int) (Matrix, *ProviderError, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Matrix{}, &ProviderError{Provider: "osrm", Reason: "build request", Err: err}, false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.http.Do(req)
	if err != nil {
		return Matrix{}, &ProviderError{Provider: "osrm", Reason: "request failed", Err: err}, true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "read body", Err: err}, true
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "upstream unavailable"}, true
	}
	var tr tableResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "decode response", Err: err}, false
	}
	if resp.StatusCode != http.StatusOK || tr.Code != "Ok" {
		reason := "unexpected response code " + tr.Code
		if tr.Message != "" {
			reason += ": " + tr.Message
		}
		return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: reason}, false
	}

	var m Matrix
	if tr.Distances != nil {
		if m.Distances, err = dense(tr.Distances, n); err != nil {
			return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "distances", Err: err}, false
		}
	}
	if tr.Durations != nil {
		if m.Durations, err = dense(tr.Durations, n); err != nil {
			return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "durations", Err: err}, false
		}
	}
	if m.Distances == nil && m.Durations == nil {
		return Matrix{}, &ProviderError{Provider: "osrm", Status: resp.StatusCode, Reason: "response has neither distances nor durations"}, false
	}
	return m, nil, false
}

var errUnroutable = errors.New("unroutable pair")

// dense rejects null cells, which OSRM emits for pairs it cannot route.
func dense(rows [][]*float64, n int) ([][]float64, error) {
	if len(rows) != n {
		return nil, fmt.Errorf("got %d rows, want %d", len(rows), n)
	}
	out := make([][]float64, n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), n)
		}
		out[i] = make([]float64, n)
		for j, v := range row {
			if v == nil {
				return nil, fmt.Errorf("%w %d->%d", errUnroutable, i, j)
			}
			out[i][j] = *v
		}
	}
	return out, nil
}

// nextBackoff doubles from 200ms per attempt, capped at 5s.
func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	base := 200 * time.Millisecond * time.Duration(1<<attempts)
	if base > 5*time.Second {
		base = 5 * time.Second
	}
	return base
}
