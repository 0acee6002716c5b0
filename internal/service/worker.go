package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/domain/outbox"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
)

// Publisher delivers relayed notifications to a sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, entry *outbox.Entry) error
}

// deadLetterer is implemented by publishers that can park entries the relay gave up on.
type deadLetterer interface {
	PublishToDLQ(ctx context.Context, entry *outbox.Entry, reason string) error
}

// OutboxRelay moves queued notifications to the configured sink.
type OutboxRelay struct {
	repo      outbox.Repository
	tm        TransactionManager
	publisher Publisher
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewOutboxRelay(repo outbox.Repository, tm TransactionManager, publisher Publisher, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxRelay{
		repo:      repo,
		tm:        tm,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger.With().Str("job", "outbox_relay").Str("sink", publisher.Name()).Logger(),
		metrics:   metrics,
	}
}

// RelayOnce publishes one batch and reports how many entries were published and failed.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (published, failed int, err error) {
	started := time.Now()
	defer r.metrics.ObserveWorker("outbox_relay", started)

	err = r.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.ClaimPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			log := r.logger.With().Str("outbox_id", entry.ID.String()).Str("kind", entry.Kind).Logger()
			if pubErr := r.publisher.Publish(ctx, entry); pubErr != nil {
				failed++
				log.Warn().Err(pubErr).Int("attempt", entry.Attempts+1).Msg("failed to relay notification")
				if err := r.repo.RecordFailure(txCtx, entry.ID, pubErr.Error()); err != nil {
					return err
				}
				entry.RecordFailure(pubErr.Error())
				if entry.Exhausted() {
					r.deadLetter(ctx, entry, pubErr)
				}
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID, time.Now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	r.metrics.RecordWorker("outbox_relay", "published", published)
	r.metrics.RecordWorker("outbox_relay", "failed", failed)
	return published, failed, err
}

// Run relays every interval until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) {
		if _, _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("outbox relay batch failed")
		}
	})
}

// Purge drops notifications published more than retention ago.
func (r *OutboxRelay) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := r.repo.PurgePublished(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	r.metrics.RecordWorker("outbox_relay", "purged", int(n))
	if n > 0 {
		r.logger.Info().Int64("purged", n).Msg("purged published notifications")
	}
	return n, nil
}

func (r *OutboxRelay) deadLetter(ctx context.Context, entry *outbox.Entry, cause error) {
	dl, ok := r.publisher.(deadLetterer)
	if !ok {
		r.logger.Error().Str("outbox_id", entry.ID.String()).Msg("notification dropped after retries")
		return
	}
	if err := dl.PublishToDLQ(ctx, entry, cause.Error()); err != nil {
		r.logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("failed to dead-letter notification")
	}
}

// Sweeper reconciles charges whose callbacks never arrived.
type Sweeper struct {
	payments  *PaymentService
	maxAge    time.Duration
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewSweeper(payments *PaymentService, maxAge time.Duration, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		payments:  payments,
		maxAge:    maxAge,
		batchSize: batchSize,
		logger:    logger.With().Str("job", "pending_sweeper").Logger(),
		metrics:   metrics,
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (ReconcileReport, error) {
	started := time.Now()
	defer s.metrics.ObserveWorker("pending_sweeper", started)

	report, err := s.payments.ReconcilePending(ctx, s.maxAge, s.batchSize)
	s.metrics.RecordWorker("pending_sweeper", "completed", report.Completed)
	s.metrics.RecordWorker("pending_sweeper", "failed", report.Failed)
	s.metrics.RecordWorker("pending_sweeper", "pending", report.Pending)
	s.metrics.RecordWorker("pending_sweeper", "duplicate", report.Duplicates)
	s.metrics.RecordWorker("pending_sweeper", "error", report.Errors)
	if report.Checked > 0 {
		s.logger.Info().
			Int("checked", report.Checked).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("pending", report.Pending).
			Int("duplicates", report.Duplicates).
			Int("errors", report.Errors).
			Msg("sweep finished")
	}
	return report, err
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
	})
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// LogPublisher writes notifications to the log. It backs the "log" notification driver.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, entry *outbox.Entry) error {
	p.logger.Info().
		Str("outbox_id", entry.ID.String()).
		Str("user_id", entry.RecipientID.String()).
		Str("kind", entry.Kind).
		Str("title", entry.Title).
		Msg(entry.Message)
	return nil
}
