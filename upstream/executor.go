package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"songpool-api-go/circuitbreaker"
	"songpool-api-go/logcolors"
	"songpool-api-go/ratelimit"
	"songpool-api-go/services/notifier"
	"songpool-api-go/stats"

	log "github.com/sirupsen/logrus"
)

// Doer abstracts the HTTP transport so tests can swap in fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the retry policy shared by all requests.
type Config struct {
	MaxRetries        int           // retries after the first attempt
	BaseDelay         time.Duration // backoff for the first retry, doubled each time
	DefaultRetryAfter time.Duration // used when a 429 carries no usable Retry-After
}

// Request describes a single upstream call.
type Request struct {
	Method   string
	URL      string
	Token    string            // bearer credential, empty for unauthenticated APIs
	Headers  map[string]string // extra headers, e.g. a provider-pleasing User-Agent
	Identity string            // rate limiter bucket key
	Priority ratelimit.Priority
}

// Executor sends requests through the per-identity rate limiter and retries
// transient failures. Every request, first attempt or retry, passes through
// Acquire before it touches the wire, so retries compete for tokens like
// everyone else.
type Executor struct {
	limiter *ratelimit.Limiter
	doer    Doer
	breaker *circuitbreaker.CircuitBreaker // nil disables admission checks
	cfg     Config
}

func NewExecutor(limiter *ratelimit.Limiter, doer Doer, breaker *circuitbreaker.CircuitBreaker, cfg Config) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 2 * time.Second
	}
	if doer == nil {
		doer = http.DefaultClient
	}

	return &Executor{
		limiter: limiter,
		doer:    doer,
		breaker: breaker,
		cfg:     cfg,
	}
}

// Execute runs the request until it succeeds, fails terminally, or exhausts
// the retry budget. On 2xx the body is decoded as JSON into out (skipped when
// out is nil). The budget is shared across all retryable failures: a 429
// followed by two 500s leaves one retry, not three.
func (e *Executor) Execute(ctx context.Context, req Request, out any) error {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Acquire(ctx, req.Identity, req.Priority); err != nil {
			return fmt.Errorf("acquiring rate limit slot for %s: %w", req.Identity, err)
		}

		if e.breaker != nil && !e.breaker.Allow() {
			return &Error{Attempts: attempt + 1, URL: req.URL, Err: circuitbreaker.ErrCircuitOpen}
		}

		stats.Get().RecordUpstreamRequest()
		status, header, err := e.send(ctx, req, out)

		// Transport never produced a status: network error, retryable.
		if status == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastStatus = 0
			lastErr = err
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			log.Warnf("%s %s %s failed (attempt %d/%d): %v",
				logcolors.LogUpstream, req.Method, req.URL, attempt+1, e.cfg.MaxRetries+1, err)
			if attempt < e.cfg.MaxRetries {
				if err := sleep(ctx, e.backoff(attempt)); err != nil {
					return err
				}
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			// A 2xx with an undecodable body is a contract violation,
			// not a transient fault. Surface it without retrying.
			return err

		case status == http.StatusUnauthorized:
			stats.Get().RecordUpstreamAuthFailure()
			notifier.PublishUpstreamAuthFailure(req.Identity, status)
			log.Warnf("%s Credentials rejected for %s", logcolors.LogUpstream, logcolors.Identity(req.Identity))
			return &AuthError{Identity: req.Identity, Status: status}

		case status == http.StatusTooManyRequests:
			stats.Get().RecordUpstreamThrottle()
			wait := retryAfter(header, e.cfg.DefaultRetryAfter)
			e.limiter.NotifyThrottled(req.Identity, wait)
			lastStatus = status
			lastErr = nil
			log.Warnf("%s Throttled on %s, honoring Retry-After of %v (attempt %d/%d)",
				logcolors.LogUpstream, req.URL, wait, attempt+1, e.cfg.MaxRetries+1)
			if attempt < e.cfg.MaxRetries {
				if err := sleep(ctx, wait); err != nil {
					return err
				}
			}

		case status >= 500:
			stats.Get().RecordUpstreamServerError()
			lastStatus = status
			lastErr = nil
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			log.Warnf("%s %s %s returned %d (attempt %d/%d)",
				logcolors.LogUpstream, req.Method, req.URL, status, attempt+1, e.cfg.MaxRetries+1)
			if attempt < e.cfg.MaxRetries {
				if err := sleep(ctx, e.backoff(attempt)); err != nil {
					return err
				}
			}

		default:
			// Remaining 4xx statuses are our fault, retrying won't help.
			return &Error{Status: status, Attempts: attempt + 1, URL: req.URL}
		}
	}

	return &Error{Status: lastStatus, Attempts: e.cfg.MaxRetries + 1, URL: req.URL, Err: lastErr}
}

// send performs one attempt. A zero status means the transport failed before
// a response arrived. On 2xx the returned error is nil unless decoding fails.
func (e *Executor) send(ctx context.Context, req Request, out any) (int, http.Header, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := e.doer.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, resp.Header, fmt.Errorf("decoding %s response: %w", req.URL, err)
		}
		return resp.StatusCode, resp.Header, nil
	}

	// Drain so the transport can reuse the connection.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode, resp.Header, nil
}

func (e *Executor) backoff(attempt int) time.Duration {
	return e.cfg.BaseDelay * time.Duration(1<<attempt)
}

// retryAfter parses the delay-seconds form of Retry-After. Missing, garbled,
// or HTTP-date values fall back to the configured default.
func retryAfter(header http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
