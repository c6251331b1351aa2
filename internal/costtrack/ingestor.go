package costtrack

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/logger"
)

// Ingestor buffers usage records and persists them to the store off the
// request path. Implements Sink.
type Ingestor struct {
	store     *Store
	recChan   chan *UsageRecord
	batchSize int
	flushTime time.Duration
}

func NewIngestor(store *Store) *Ingestor {
	return &Ingestor{
		store:     store,
		recChan:   make(chan *UsageRecord, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
	}
}

// Write enqueues a record. A full buffer drops the record rather than
// blocking a request.
func (i *Ingestor) Write(rec *UsageRecord) {
	select {
	case i.recChan <- rec:
	default:
		logger.Warn("usage buffer full, dropping record", zap.String("id", rec.ID))
	}
}

func (i *Ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

// Stop closes the intake; the worker flushes what remains and exits.
func (i *Ingestor) Stop() {
	close(i.recChan)
}

func (i *Ingestor) worker(ctx context.Context) {
	batch := make([]*UsageRecord, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, rec := range batch {
			if err := i.store.Insert(context.Background(), rec); err != nil {
				logger.Error("failed to persist usage record",
					zap.String("id", rec.ID), zap.Error(err))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-i.recChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
