package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/realtime-notify/internal/model"
	"github.com/rickgao/realtime-notify/internal/router"
)

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being flushed
	InstanceID    string        // Stamped on every row
	Clock         clock.Clock   // Flush ticker; defaults to the wall clock
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertNotification = `
	INSERT INTO notifications (id, server_id, type, payload, received_at, instance_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

// NotificationWriter consumes notifications from the router buffer and
// writes them to the notifications table.
type NotificationWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	clock  clock.Clock

	// Input from Message Router
	input *router.Buffer[model.Notification]

	// Database
	db BatchSender

	// Batching
	batch   []model.Notification
	batchMu sync.Mutex

	// flushMu serializes flushes so batches land in order.
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	dbCtx  context.Context // inserts; survives cancel
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewNotificationWriter creates a new NotificationWriter.
func NewNotificationWriter(
	cfg WriterConfig,
	input *router.Buffer[model.Notification],
	db BatchSender,
	logger *slog.Logger,
) *NotificationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &NotificationWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		clock:  clk,
		logger: logger.With("component", "writer"),
		batch:  make([]model.Notification, 0, cfg.BatchSize),
	}
}

// Start begins consuming notifications and writing to the database.
func (w *NotificationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.dbCtx = context.WithoutCancel(ctx)
	ticker := w.clock.Ticker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop(ticker)

	w.logger.Info("notification writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer, moving anything still buffered into a final
// flush bounded by ctx.
func (w *NotificationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("notification writer stop timed out")
	}

	if rest := w.input.Drain(0); len(rest) > 0 {
		w.batchMu.Lock()
		w.batch = append(w.batch, rest...)
		w.batchMu.Unlock()
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("notification writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *NotificationWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *NotificationWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		n, err := w.input.Pop(w.ctx)
		if err != nil {
			if errors.Is(err, router.ErrBufferClosed) {
				w.flush(w.dbCtx)
			}
			return
		}
		w.handleNotification(n)
	}
}

// flushLoop periodically flushes the batch.
func (w *NotificationWriter) flushLoop(ticker *clock.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.dbCtx)
		}
	}
}

// handleNotification adds a notification to the batch.
func (w *NotificationWriter) handleNotification(n model.Notification) {
	w.batchMu.Lock()
	w.batch = append(w.batch, n)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.dbCtx)
	}
}

// flush writes the current batch to the database. A failed batch is
// dropped and counted.
func (w *NotificationWriter) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]model.Notification, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *NotificationWriter) batchInsert(ctx context.Context, rows []model.Notification) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, n := range rows {
		var serverID *string
		if n.ServerID != "" {
			serverID = &n.ServerID
		}
		batch.Queue(insertNotification,
			n.ID, serverID, n.Type, n.Payload, n.ReceivedAt, w.cfg.InstanceID,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
