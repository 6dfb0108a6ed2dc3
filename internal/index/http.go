package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/srcpkg/registry/internal/config"
)

// ErrUnavailable is returned while the circuit breaker to the index service is open.
var ErrUnavailable = errors.New("index service unavailable")

// HTTPIndex registers entries with a remote index service by POSTing them to
// <url>/entries. Transient failures (network errors and 5xx) are retried with
// exponential backoff; repeated failures trip a circuit breaker so publishes
// fail fast while the service is down.
type HTTPIndex struct {
	endpoint   string
	token      string
	client     *http.Client
	maxRetries uint64
	breaker    *circuit.Breaker

	// retry interval tuning; overridden in tests
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewHTTPIndex creates an HTTP index client.
func NewHTTPIndex(cfg *config.HTTPIndexConfig) (*HTTPIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("index.http.url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	// Trips after 5 consecutive failures and retries on an exponential schedule.
	breakerBackOff := backoff.NewExponentialBackOff()
	breakerBackOff.InitialInterval = 5 * time.Second
	breakerBackOff.MaxInterval = 2 * time.Minute
	breakerBackOff.Multiplier = 2.0
	breakerBackOff.Reset()

	return &HTTPIndex{
		endpoint:   strings.TrimSuffix(cfg.URL, "/") + "/entries",
		token:      cfg.Token,
		client:     &http.Client{Timeout: timeout},
		maxRetries: uint64(retries),
		breaker: circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    breakerBackOff,
			ShouldTrip: circuit.ThresholdTripFunc(5),
		}),
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
	}, nil
}

// rejectedError is a definitive answer from the index service. It is not
// retried and does not count against the circuit breaker.
type rejectedError struct {
	status int
	err    error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

// Register posts the entry. A 409 response maps to ErrDuplicate.
func (h *HTTPIndex) Register(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry.normalized())
	if err != nil {
		return fmt.Errorf("failed to encode index entry: %w", err)
	}

	if !h.breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", h.endpoint, ErrUnavailable)
	}

	var rejected *rejectedError
	err = h.breaker.Call(func() error {
		operation := func() error {
			err := h.post(ctx, body)
			if errors.As(err, &rejected) {
				return nil
			}
			return err
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = h.initialInterval
		b.MaxInterval = h.maxInterval
		return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, h.maxRetries), ctx))
	}, 0)
	if err != nil {
		return fmt.Errorf("failed to register %s %s with index: %w", entry.Name, entry.Vers, err)
	}
	if rejected != nil {
		return rejected
	}
	return nil
}

func (h *HTTPIndex) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return &rejectedError{err: fmt.Errorf("failed to build index request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return &rejectedError{status: resp.StatusCode, err: ErrDuplicate}
	case resp.StatusCode >= 500:
		return fmt.Errorf("index service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	default:
		return &rejectedError{
			status: resp.StatusCode,
			err:    fmt.Errorf("index service rejected entry with %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}
}

// Tripped reports whether the circuit breaker is currently open.
func (h *HTTPIndex) Tripped() bool {
	return h.breaker.Tripped()
}
