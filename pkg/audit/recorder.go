// Package audit tracks upstream catalog API usage. The upstream enforces
// implicit rate limits, so every call the service makes is recorded and
// periodically flushed to an analytics sink where quota consumption can
// be watched. Recording is fire-and-forget: a lost record never affects
// request handling.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record describes one upstream call.
type Record struct {
	Timestamp      time.Time `bigquery:"timestamp"`
	Operation      string    `bigquery:"operation"` // "items" or "search"
	KeyCount       int       `bigquery:"key_count"`
	Outcome        string    `bigquery:"outcome"` // "ok" or "error"
	DurationMillis int64     `bigquery:"duration_millis"`
}

// Recorder accepts records of upstream calls.
type Recorder interface {
	Record(record Record)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) Record(Record) {}

// RecordSink is the destination a BatchRecorder flushes to. It abstracts
// the analytics store (BigQuery in production).
type RecordSink interface {
	InsertBatch(ctx context.Context, records []*Record) error
	Close() error
}

// BatchRecorderConfig holds configuration for the BatchRecorder.
type BatchRecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	InsertTimeout time.Duration // The timeout for a single flush operation.
}

// BatchRecorder collects records and flushes them to a RecordSink when a
// batch fills or the flush interval elapses. Records are dropped rather
// than blocking callers when the buffer is full.
type BatchRecorder struct {
	config    *BatchRecorderConfig
	sink      RecordSink
	logger    zerolog.Logger
	inputChan chan *Record
	wg        sync.WaitGroup
}

// NewBatchRecorder creates a BatchRecorder over the given sink.
func NewBatchRecorder(config *BatchRecorderConfig, sink RecordSink, logger zerolog.Logger) *BatchRecorder {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = 30 * time.Second
	}
	return &BatchRecorder{
		config:    config,
		sink:      sink,
		logger:    logger.With().Str("component", "BatchRecorder").Logger(),
		inputChan: make(chan *Record, config.BatchSize*2),
	}
}

// Start begins the batching worker.
func (b *BatchRecorder) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting audit batch recorder...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop gracefully shuts down the recorder, flushing pending records. The
// context bounds how long the shutdown may take.
func (b *BatchRecorder) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping audit batch recorder...")
	close(b.inputChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Audit batch recorder stopped gracefully.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for audit batch recorder to stop.")
		return ctx.Err()
	}

	if err := b.sink.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing audit record sink.")
	}
	return nil
}

// Record queues one record for flushing. Never blocks: if the buffer is
// full the record is dropped and counted against nothing.
func (b *BatchRecorder) Record(record Record) {
	select {
	case b.inputChan <- &record:
	default:
		b.logger.Warn().Msg("Audit buffer full, dropping record.")
	}
}

// worker collects records into a batch and flushes it on size or timer.
func (b *BatchRecorder) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*Record, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The service is shutting down, flush any remaining records.
			b.flush(context.Background(), batch)
			return

		case record, ok := <-b.inputChan:
			if !ok {
				b.flush(ctx, batch)
				return
			}
			batch = append(batch, record)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*Record, 0, b.config.BatchSize)
				// Reset the ticker to prevent an immediate, unnecessary flush.
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*Record, 0, b.config.BatchSize)
			}
		}
	}
}

// flush sends the current batch to the sink. Failures are logged and the
// batch is discarded; audit data is best-effort.
func (b *BatchRecorder) flush(ctx context.Context, batch []*Record) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.sink.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to flush audit batch.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed audit batch.")
}
