package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/l0p7/iowa/internal/metrics"
)

const maxPayloadBytes = 32 << 20

// Doer is the slice of *http.Client the executor depends on.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures an Executor.
type Options struct {
	Client            Doer
	APIKey            string
	CredentialParam   string
	Regions           map[string]string
	Scheme            string
	ResponseTimeout   time.Duration
	MaxRetries        int
	DefaultRetryAfter time.Duration
	Clock             clockwork.Clock
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
}

// Executor performs admitted calls and classifies their outcome. 429 responses are
// retried after the server's retry-after delay up to MaxRetries times; callers never
// see the 429 itself.
type Executor struct {
	client            Doer
	credentialParam   string
	regions           map[string]string
	scheme            string
	responseTimeout   time.Duration
	maxRetries        int
	defaultRetryAfter time.Duration
	clock             clockwork.Clock
	logger            *slog.Logger
	metrics           *metrics.Recorder

	apiKey atomic.Pointer[string]
}

// NewHTTPClient returns a client whose dials give up after connectTimeout. Response
// deadlines are applied per attempt by the executor.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Transport: transport}
}

// New validates opts and builds an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Client == nil {
		return nil, errors.New("upstream: http client required")
	}
	if strings.TrimSpace(opts.CredentialParam) == "" {
		return nil, errors.New("upstream: credential parameter required")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("upstream: max retries must be >= 0")
	}
	e := &Executor{
		client:            opts.Client,
		credentialParam:   opts.CredentialParam,
		regions:           make(map[string]string, len(opts.Regions)),
		scheme:            strings.ToLower(strings.TrimSpace(opts.Scheme)),
		responseTimeout:   opts.ResponseTimeout,
		maxRetries:        opts.MaxRetries,
		defaultRetryAfter: opts.DefaultRetryAfter,
		clock:             opts.Clock,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
	}
	for region, host := range opts.Regions {
		e.regions[strings.ToLower(region)] = host
	}
	if e.scheme == "" {
		e.scheme = "https"
	}
	if e.responseTimeout <= 0 {
		e.responseTimeout = 15 * time.Second
	}
	if e.defaultRetryAfter <= 0 {
		e.defaultRetryAfter = time.Second
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("agent", "executor"))
	e.SetAPIKey(opts.APIKey)
	return e, nil
}

// SetAPIKey swaps the credential used by subsequent attempts.
func (e *Executor) SetAPIKey(key string) {
	e.apiKey.Store(&key)
}

// HasRegion reports whether region is present in the region table.
func (e *Executor) HasRegion(region string) bool {
	_, ok := e.regions[strings.ToLower(region)]
	return ok
}

type outcome struct {
	payload    json.RawMessage
	err        error
	retryAfter time.Duration
	retry      bool
}

// Execute performs req and returns the payload or a typed *Error. Context
// cancellation is returned unwrapped.
func (e *Executor) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	target, display, err := e.target(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		res := e.attempt(ctx, req, target, display)
		if !res.retry {
			return res.payload, res.err
		}
		if attempt >= e.maxRetries {
			e.logger.Error("upstream kept rate limiting, giving up",
				slog.String("path", display),
				slog.Int("retries", attempt),
			)
			return nil, newError(KindRateLimited, http.StatusTooManyRequests,
				fmt.Sprintf("still rate limited after %d retries", attempt), nil)
		}
		e.metrics.ObserveRetry(req.Region)
		e.logger.Warn("rate limited by upstream, retrying",
			slog.String("path", display),
			slog.Duration("retry_after", res.retryAfter),
			slog.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(res.retryAfter):
		}
	}
}

// target builds the request URL without the credential, plus a loggable form.
func (e *Executor) target(req Request) (string, string, error) {
	base := req.FullURL
	if base == "" {
		host, ok := e.regions[strings.ToLower(req.Region)]
		if !ok {
			return "", "", newError(KindBadRequest, 0, fmt.Sprintf("unknown region %q", req.Region), nil)
		}
		base = e.scheme + "://" + host + req.Path
	}
	expanded, err := expandPath(base, req.PathParameters)
	if err != nil {
		return "", "", newError(KindBadRequest, 0, "invalid request path", err)
	}
	query := encodeQuery(req.QueryParameters)
	display := expanded
	if encoded := query.Encode(); encoded != "" {
		display += "?" + encoded
	}
	return expanded, display, nil
}

func (e *Executor) attempt(ctx context.Context, req Request, target, display string) outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, e.responseTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method(), target, nil)
	if err != nil {
		return outcome{err: newError(KindBadRequest, 0, "invalid request url", err)}
	}
	query := encodeQuery(req.QueryParameters)
	if key := *e.apiKey.Load(); key != "" {
		query.Set(e.credentialParam, key)
	}
	httpReq.URL.RawQuery = query.Encode()
	httpReq.Header.Set("Accept", "application/json")

	start := e.clock.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return e.failed(ctx, req, display, start, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	closeErr := resp.Body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return e.failed(ctx, req, display, start, err)
	}

	res := e.classify(resp, body, display)
	label := "success"
	switch {
	case res.retry:
		label = string(KindRateLimited)
	case res.err != nil:
		label = string(KindOf(res.err))
	}
	e.metrics.ObserveUpstream(req.Region, label, e.clock.Since(start))
	e.logger.Debug("upstream request", slog.String("path", display), slog.Int("status", resp.StatusCode))
	return res
}

func (e *Executor) classify(resp *http.Response, body []byte, display string) outcome {
	code := resp.StatusCode
	switch code {
	case http.StatusOK:
		if len(strings.TrimSpace(string(body))) == 0 {
			return outcome{payload: json.RawMessage("null")}
		}
		if !json.Valid(body) {
			return outcome{err: newError(KindTransport, code, "upstream returned malformed JSON", nil)}
		}
		return outcome{payload: json.RawMessage(body)}
	case http.StatusNoContent:
		return outcome{payload: json.RawMessage("null")}
	case http.StatusBadRequest:
		return outcome{err: newError(KindBadRequest, code, "Bad request.", nil)}
	case http.StatusForbidden:
		e.logger.Error("upstream rejected the credential, check upstream.apiKey",
			slog.String("path", display),
		)
		return outcome{err: newError(KindAuthFailure, code, "Authorization failure.", nil)}
	case http.StatusNotFound:
		return outcome{err: newError(KindNotFound, code, "Resource not found.", nil)}
	case http.StatusTooManyRequests:
		return outcome{retry: true, retryAfter: e.retryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusInternalServerError:
		return outcome{err: newError(KindUpstreamInternal, code, "The API encountered an internal server error.", nil)}
	default:
		return outcome{err: newError(KindUnexpectedStatus, code, fmt.Sprintf("Unexpected status %d.", code), nil)}
	}
}

// maxRetryAfter caps the delay a Retry-After header may ask for.
const maxRetryAfter = time.Hour

// retryAfter converts the header's seconds into a delay. Values that are not
// finite, negative or above maxRetryAfter fall back to the default.
func (e *Executor) retryAfter(header string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || math.IsNaN(seconds) || seconds < 0 || seconds > maxRetryAfter.Seconds() {
		return e.defaultRetryAfter
	}
	millis := seconds * 1000
	return time.Duration(millis) * time.Millisecond
}

func (e *Executor) failed(ctx context.Context, req Request, display string, start time.Time, err error) outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome{err: ctxErr}
	}
	classified := classifyTransport(err)
	e.metrics.ObserveUpstream(req.Region, string(classified.Kind), e.clock.Since(start))
	e.logger.Warn("upstream request failed",
		slog.String("path", display),
		slog.String("kind", string(classified.Kind)),
		slog.Any("error", err),
	)
	return outcome{err: classified}
}

func classifyTransport(err error) *Error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout() {
		return newError(KindTransportTimeout, 0, "the connection to the upstream host timed out", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(KindResponseTimeout, 0, "the upstream host did not answer in time", err)
	}
	return newError(KindTransport, 0, "the request could not be completed", err)
}
