package persistence

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes to Postgres. The engine
// sends on this channel with a blocking send, so if the worker falls behind
// the engine stalls rather than losing an applied operation.
type Worker struct {
	writer       *AuditWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewAuditWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming records and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes;
// pending records are flushed before returning.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("records", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case record, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("records", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, record)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// the context is cancelled. Records are never dropped; on cancellation one
// final attempt runs with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Record) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("records", len(batch)).Msg("retrying persist flush")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt+1).Msg("persist flush recovered")
			}
			return
		}
		w.log.Error().Err(err).Msg("persist flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, batch []Record) error {
	dur, err := w.writer.WriteBatch(ctx, batch)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues(classifyWriteError(err)).Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(dur.Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistOpsWritten.Add(float64(len(batch)))
		events := 0
		for _, r := range batch {
			events += len(r.Events)
		}
		w.metrics.PersistEventsWritten.Add(float64(events))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Op.Sequence))
	}
	return nil
}

func classifyWriteError(err error) string {
	switch {
	case strings.HasPrefix(err.Error(), "begin tx"):
		return "tx_begin"
	case strings.HasPrefix(err.Error(), "commit"):
		return "tx_commit"
	default:
		return "write"
	}
}
