// Package pharmacyapi is the JSON/HTTP client for the external pharmacy
// backend that owns prescriptions, inventory, dispensings and returns.
package pharmacyapi

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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/platform/metrics"
)

const maxErrorBody = 64 << 10

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Client calls the pharmacy backend. Only transient failures (5xx,
// unreachable backend) count against the breaker; a rejected request is the
// backend working as intended.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	token      func(ctx context.Context) string
	breakerCfg BreakerConfig
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithTokenSource sets where the bearer token forwarded to the backend comes from.
func WithTokenSource(fn func(ctx context.Context) string) Option {
	return func(c *Client) { c.token = fn }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("pharmacyapi"),
		breakerCfg: BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1},
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := c.breakerCfg
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pharmacy-backend",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			c.metrics.SetBreakerState(name, breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			var te *dispensing.TransientNetworkError
			return !errors.As(err, &te)
		},
	})
	return c
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// errorBody is the backend's error payload.
type errorBody struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	UnavailableItems []struct {
		MedicineID        string `json:"medicineId"`
		MedicineName      string `json:"medicineName"`
		RequiredQuantity  int    `json:"requiredQuantity"`
		AvailableQuantity int    `json:"availableQuantity"`
	} `json:"unavailableItems"`
}

func (b errorBody) message(status int) string {
	switch {
	case b.Message != "":
		return b.Message
	case b.Error != "":
		return b.Error
	default:
		return http.StatusText(status)
	}
}

// classify maps a non-2xx response to the workflow's error taxonomy.
func classify(op string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.message(status)

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &dispensing.ValidationError{Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &dispensing.AuthorizationError{Op: op, Message: msg}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, dispensing.ErrNotFound)
	case status == http.StatusConflict:
		sc := &dispensing.StockConflictError{Message: msg}
		for _, it := range eb.UnavailableItems {
			sc.Items = append(sc.Items, dispensing.UnavailableItem{
				MedicineID:        it.MedicineID,
				MedicineName:      it.MedicineName,
				RequiredQuantity:  it.RequiredQuantity,
				AvailableQuantity: it.AvailableQuantity,
			})
		}
		return sc
	default:
		return &dispensing.TransientNetworkError{Op: op, Err: fmt.Errorf("status %d: %s", status, msg)}
	}
}

func outcome(err error) string {
	var (
		ve *dispensing.ValidationError
		ae *dispensing.AuthorizationError
		se *dispensing.StockConflictError
		te *dispensing.TransientNetworkError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "unauthorized"
	case errors.Is(err, dispensing.ErrNotFound):
		return "not_found"
	case errors.As(err, &se):
		return "stock_conflict"
	case errors.As(err, &te):
		return "transient"
	default:
		return "error"
	}
}

// do sends one request through the breaker and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "pharmacyapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &dispensing.TransientNetworkError{Op: op, Err: err}
	}
	elapsed := time.Since(start)
	c.metrics.ObserveBackend(op, outcome(err), elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		c.logger.Warn().Err(err).
			Str("op", op).
			Str("method", method).
			Str("path", path).
			Dur("latency", elapsed).
			Msg("pharmacy backend request failed")
		return err
	}
	c.logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Dur("latency", elapsed).
		Msg("pharmacy backend request")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &dispensing.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(op, resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &dispensing.TransientNetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
