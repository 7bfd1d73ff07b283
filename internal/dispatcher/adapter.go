package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

const maxResponseBody = 64 << 10

// Result describes the combination that was accepted by the provider.
type Result struct {
	ProviderID string
	URL        string
	Strategy   string
	Attempts   int
}

// Adapter delivers chat messages, negotiating the provider's wire contract
// on every send.
type Adapter struct {
	cfg    Config
	client *http.Client
	br     *MicroBreaker
	log    *zap.Logger
}

type Option func(*Adapter)

// WithHTTPClient replaces the default client; its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option { return func(a *Adapter) { a.client = c } }

// WithClock drives the breaker cool-down from a custom clock.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.br = NewMicroBreaker(a.cfg.BreakerThreshold, a.cfg.BreakerOpenFor, now)
	}
}

func NewAdapter(cfg Config, log *zap.Logger, opts ...Option) *Adapter {
	cfg = cfg.withDefaults()
	a := &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.AttemptTimeout},
		br:     NewMicroBreaker(cfg.BreakerThreshold, cfg.BreakerOpenFor, nil),
		log:    log.Named("dispatcher"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ready is false while the breaker is open.
func (a *Adapter) Ready() bool { return a.cfg.DryRun || a.br.Ready() }

func (a *Adapter) BreakerState() string { return a.br.State() }

// Send delivers text to phone. It stops at the first 2xx response. When all
// combinations fail it returns an *ExhaustedError; when the breaker is open
// it returns ErrUnavailable without any network call.
func (a *Adapter) Send(ctx context.Context, phone, text string) (Result, error) {
	if a.cfg.DryRun {
		return Result{ProviderID: "dryrun-" + util.New(), Strategy: "dry-run"}, nil
	}

	plan := Plan(a.cfg, a.cfg.MaxAttempts)
	if len(plan) == 0 {
		return Result{}, ErrNoEndpoints
	}
	if !a.br.TryAcquire() {
		return Result{}, ErrUnavailable
	}

	start := time.Now()
	defer func() { metrics.NegotiationDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Budget)
	defer cancel()

	msg := Message{To: phone, Text: text}
	exhausted := &ExhaustedError{}
	for _, req := range plan {
		if err := ctx.Err(); err != nil {
			exhausted.LastErr = "negotiation budget: " + err.Error()
			break
		}
		exhausted.Attempts++
		exhausted.LastURL = req.Endpoint.URL

		id, err := a.attempt(ctx, req, msg)
		if err != nil {
			exhausted.LastErr = err.Error()
			a.log.Debug("provider attempt failed",
				zap.String("strategy", req.Strategy()),
				zap.String("url", req.Endpoint.URL),
				zap.Error(err))
			continue
		}

		a.br.OnSuccess()
		a.log.Info("provider accepted message",
			zap.String("strategy", req.Strategy()),
			zap.String("url", req.Endpoint.URL),
			zap.Int("attempts", exhausted.Attempts))
		return Result{ProviderID: id, URL: req.Endpoint.URL, Strategy: req.Strategy(), Attempts: exhausted.Attempts}, nil
	}

	if exhausted.Attempts == 0 {
		a.br.Release()
	} else {
		a.br.OnFailure()
	}
	return Result{}, exhausted
}

func (a *Adapter) attempt(ctx context.Context, req Request, msg Message) (string, error) {
	body, err := json.Marshal(req.Body.Build(a.cfg, msg))
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header = req.Header.Build(a.cfg)

	res, err := a.client.Do(hreq)
	if err != nil {
		metrics.NegotiationAttempts.WithLabelValues("transport_error").Inc()
		return "", err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if res.StatusCode/100 != 2 {
		metrics.NegotiationAttempts.WithLabelValues("http_error").Inc()
		return "", fmt.Errorf("status=%d body=%s", res.StatusCode, snippet(raw))
	}
	metrics.NegotiationAttempts.WithLabelValues("ok").Inc()
	return ParseProviderID(raw), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
