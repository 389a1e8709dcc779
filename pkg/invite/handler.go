package invite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/invite-mailer/pkg/config"
	"github.com/telekom/invite-mailer/pkg/mail"
	"github.com/telekom/invite-mailer/pkg/metrics"
	"github.com/telekom/invite-mailer/pkg/system"
)

// Invocation outcomes, used as metric labels.
const (
	OutcomeSuccess         = "success"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeDeliveryFailure = "delivery_failure"
)

// Handler runs one invocation per call. It holds no per-invocation state and
// is safe for concurrent use.
type Handler struct {
	log       *zap.SugaredLogger
	environ   func() map[string]string
	dialerFor func(config.Config) mail.Dialer
	sleep     func(context.Context, time.Duration) error
}

// Option customises a Handler.
type Option func(*Handler)

// WithEnvironment makes the handler read its configuration from vars instead
// of the process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(h *Handler) {
		h.environ = func() map[string]string { return vars }
	}
}

// WithDialer replaces the SMTPS dialer, e.g. with an in-memory server in tests.
func WithDialer(fn func(config.Config) mail.Dialer) Option {
	return func(h *Handler) {
		h.dialerFor = fn
	}
}

// NewHandler creates a Handler that reads the process environment and sends
// over SMTPS unless overridden by opts.
func NewHandler(logger *zap.SugaredLogger, opts ...Option) *Handler {
	h := &Handler{
		log: logger.Named("invite"),
		environ: func() map[string]string {
			return env.ToMap(os.Environ())
		},
		dialerFor: func(cfg config.Config) mail.Dialer {
			return mail.NewDialer(cfg)
		},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one event. Failures are reported in the Response; the
// returned error is always nil so the runtime never retries on its own.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (Response, error) {
	start := time.Now()
	id, source := invocationID(ctx)
	log := h.log.With(system.InvocationFields(id, source)...)

	resp, outcome := h.handle(ctx, log, payload)

	metrics.Invocations.WithLabelValues(outcome).Inc()
	metrics.InvocationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	log.Debugw("Invocation finished", "outcome", outcome, "statusCode", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func (h *Handler) handle(ctx context.Context, log *zap.SugaredLogger, payload json.RawMessage) (Response, string) {
	vars := h.environ()

	if delay, ok := config.DebugSleep(vars); ok {
		log.Infow("Sleeping before handling invocation", "delay", delay)
		if err := h.sleep(ctx, delay); err != nil {
			return h.fail(log, &DeliveryError{Stage: StageWait, Err: fmt.Errorf("interrupted while sleeping: %w", err)})
		}
	} else if raw := vars[config.DebugSleepKey]; raw != "" {
		log.Debugw("Ignoring non-integer debug_sleep", "value", raw)
	}

	req, err := ParseRequest(payload)
	if err != nil {
		log.Warnw("Rejecting invocation", "error", err)
		return InvalidInputResponse(), OutcomeInvalidInput
	}

	cfg, err := config.LoadFrom(vars)
	if err != nil {
		return h.fail(log, &DeliveryError{Stage: StageConfig, Err: err})
	}
	log.Debugw("Loaded mailer configuration", cfg.Fields()...)

	if err := h.deliver(ctx, log, cfg, req); err != nil {
		return h.fail(log, asDeliveryError(err, StageSession))
	}

	log.Infow("All invitations sent", "recipients", len(req.Recipients), "subject", req.Subject)
	return SuccessResponse(), OutcomeSuccess
}

// deliver renders and sends one message per recipient, in order, over a
// single session. It stops at the first failure.
func (h *Handler) deliver(ctx context.Context, log *zap.SugaredLogger, cfg config.Config, req Request) error {
	renderer, err := mail.NewRenderer(cfg.TemplateEngine, string(cfg.Template))
	if err != nil {
		return &DeliveryError{Stage: StageRender, Err: err}
	}
	from := cfg.SenderAddress()

	return mail.WithSession(h.dialerFor(cfg), cfg.Addr(), log, func(s *mail.Session) error {
		for i, rcpt := range req.Recipients {
			if err := ctx.Err(); err != nil {
				return &DeliveryError{Stage: StageSend, Err: fmt.Errorf("invocation cancelled after %d of %d recipients: %w", s.Sent(), len(req.Recipients), err)}
			}
			if rcpt.Email == "" {
				return &DeliveryError{Stage: StageSend, Err: fmt.Errorf("recipient %d has no email address", i+1)}
			}

			body, err := renderer.Render(req.TemplateVars(cfg.ProjectID, rcpt))
			if err != nil {
				return &DeliveryError{Stage: StageRender, Recipient: rcpt.Email, Err: err}
			}

			msg := mail.Message{From: from, To: rcpt.Email, Subject: req.Subject, HTMLBody: body}
			if err := s.Send(msg); err != nil {
				return &DeliveryError{Stage: StageSend, Recipient: rcpt.Email, Err: err}
			}
			log.Infow("Email sent", "recipient", rcpt.Email)
		}
		return nil
	})
}

func (h *Handler) fail(log *zap.SugaredLogger, err *DeliveryError) (Response, string) {
	log.Errorw("Failed to send invitations",
		"stage", string(err.Stage),
		"recipient", err.Recipient,
		"error", err,
		zap.Stack("stacktrace"))
	return FailureResponse(err), OutcomeDeliveryFailure
}

// invocationID prefers the Lambda request id so log lines can be matched with
// the platform's own records.
func invocationID(ctx context.Context) (id, source string) {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID, "lambda"
	}
	return uuid.NewString(), "local"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
