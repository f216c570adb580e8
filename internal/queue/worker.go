package queue

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/sms"
)

var (
	jobsProcessedTotal  metric.Int64Counter
	jobsDeadLetterTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("queue")

	jobsProcessedTotal, _ = m.Int64Counter("sms_jobs_processed_total",
		metric.WithDescription("Total SMS jobs processed by outcome"))
	jobsDeadLetterTotal, _ = m.Int64Counter("sms_jobs_dead_letter_total",
		metric.WithDescription("Total SMS jobs moved to the dead-letter log"))
}

// Sender is the slice of the SMS router the worker uses.
type Sender interface {
	Send(ctx context.Context, params sms.SendParams) (sms.Dispatch, error)
	SendWithRotation(ctx context.Context, params sms.SendParams, lastProvider string) (sms.Dispatch, error)
}

// WorkerConfig holds the worker's dependencies and limits. Zero limits fall
// back to the domain defaults.
type WorkerConfig struct {
	Queue       Queue
	Sender      Sender
	Logger      *slog.Logger
	MaxAttempts int
	BackoffBase time.Duration
	CallTimeout time.Duration
}

// Worker pulls jobs serially and dispatches them through the router.
// Attempts 1 and 2 use the priority order; the final attempt rotates to a
// different provider when one exists. Multiple workers may run in parallel.
type Worker struct {
	queue       Queue
	sender      Sender
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	callTimeout time.Duration
}

// NewWorker creates a Worker from cfg.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = domain.SMSJobMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = domain.SMSJobBackoffBase
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = domain.ProviderCallTimeout
	}
	return &Worker{
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		callTimeout: cfg.CallTimeout,
	}
}

// Run processes jobs until ctx is done. The in-flight job is drained
// before returning: provider calls run on a detached context bounded only
// by the per-call ceiling, so shutdown never abandons a half-sent job.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	params := sms.SendParams{
		Identity:    job.Identity,
		Message:     job.Message,
		CallbackURL: job.CallbackURL,
	}

	var err error
	if job.Attempt < w.maxAttempts {
		_, err = w.sender.Send(callCtx, params)
	} else {
		// Final attempt: resend through a different provider if one exists.
		_, err = w.sender.SendWithRotation(callCtx, params, "")
	}

	if err == nil {
		jobsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
		return
	}

	jobsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
	w.logger.WarnContext(ctx, "sms job attempt failed",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.Any("error", err),
	)

	if job.Attempt >= w.maxAttempts {
		jobsDeadLetterTotal.Add(ctx, 1)
		if dlErr := w.queue.DeadLetter(ctx, job, err.Error()); dlErr != nil {
			w.logger.ErrorContext(ctx, "dead-letter write failed",
				slog.String("job_id", job.ID), slog.Any("error", dlErr))
		}
		return
	}

	delay := Backoff(w.backoffBase, job.Attempt)
	job.Attempt++
	if rErr := w.queue.Retry(ctx, job, delay); rErr != nil {
		w.logger.ErrorContext(ctx, "retry scheduling failed",
			slog.String("job_id", job.ID), slog.Any("error", rErr))
	}
}
