package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bidline/internal/auction"
	"bidline/internal/events"
	"bidline/internal/repo"
)

type Options struct {
	// Retries is how many extra attempts a failed batch gets.
	Retries      int
	Backoff      time.Duration
	WriteTimeout time.Duration
}

// Journal persists auction change batches on a single background writer.
// Append only queues in memory, so the engine may call it while holding an
// auction slot; batches are written in the order they were appended.
type Journal struct {
	repo   repo.Repo
	events events.Writer
	log    *zap.Logger
	opts   Options

	mu       sync.Mutex
	queue    []auction.Changes
	appended uint64
	written  uint64
	failed   uint64
	progress chan struct{}
	closed   bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func New(r repo.Repo, w events.Writer, log *zap.Logger, opts Options) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Journal{
		repo:     r,
		events:   w,
		log:      log.Named("journal"),
		opts:     opts,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the writer goroutine. It is safe to call more than once.
func (j *Journal) Start() {
	j.once.Do(func() { go j.run() })
}

// Append queues a batch. It never blocks on I/O.
func (j *Journal) Append(ch auction.Changes) {
	if ch.Empty() {
		return
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		j.log.Warn("append after close dropped", zap.String("auction_id", ch.Auction.ID), zap.Int("events", len(ch.Events)))
		return
	}
	j.queue = append(j.queue, ch)
	j.appended++
	j.mu.Unlock()
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// Flush waits until everything appended before the call has been written or
// given up on.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	target := j.appended
	j.mu.Unlock()
	for {
		j.mu.Lock()
		if j.written >= target {
			j.mu.Unlock()
			return nil
		}
		progress := j.progress
		j.mu.Unlock()
		select {
		case <-progress:
		case <-ctx.Done():
			return fmt.Errorf("journal flush: %w", ctx.Err())
		}
	}
}

// Close drains the queue and stops the writer.
func (j *Journal) Close(ctx context.Context) error {
	j.Start()
	err := j.Flush(ctx)
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	select {
	case j.wake <- struct{}{}:
	default:
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("journal close: %w", ctx.Err())
		}
	}
	return err
}

// Failures reports how many batches were dropped after exhausting retries.
func (j *Journal) Failures() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failed
}

func (j *Journal) take() ([]auction.Changes, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	batch := j.queue
	j.queue = nil
	return batch, j.closed
}

func (j *Journal) run() {
	defer close(j.done)
	for {
		batch, stop := j.take()
		if len(batch) == 0 {
			if stop {
				return
			}
			<-j.wake
			continue
		}
		var failed uint64
		for _, ch := range batch {
			if err := j.writeWithRetry(ch); err != nil {
				failed++
				j.log.Error("batch dropped",
					zap.String("auction_id", ch.Auction.ID),
					zap.Int("bids", len(ch.Bids)),
					zap.Int("events", len(ch.Events)),
					zap.Error(err))
			}
		}
		j.mu.Lock()
		j.written += uint64(len(batch))
		j.failed += failed
		close(j.progress)
		j.progress = make(chan struct{})
		j.mu.Unlock()
	}
}

func (j *Journal) writeWithRetry(ch auction.Changes) error {
	var err error
	backoff := j.opts.Backoff
	for attempt := 0; attempt <= j.opts.Retries; attempt++ {
		if attempt > 0 {
			j.log.Warn("retrying batch", zap.String("auction_id", ch.Auction.ID), zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = j.write(ch); err == nil {
			return nil
		}
	}
	return err
}

func (j *Journal) write(ch auction.Changes) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.opts.WriteTimeout)
	defer cancel()
	tx, err := j.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if ch.Auction.ID != "" {
		if err := j.repo.UpsertAuction(ctx, tx, ch.Auction); err != nil {
			return fmt.Errorf("upsert auction: %w", err)
		}
	}
	for _, b := range ch.Bids {
		if err := j.repo.UpsertBid(ctx, tx, b); err != nil {
			return fmt.Errorf("upsert bid %s: %w", b.ID, err)
		}
	}
	for _, p := range ch.Agents {
		if err := j.repo.UpsertProxyAgent(ctx, tx, p); err != nil {
			return fmt.Errorf("upsert proxy agent %s: %w", p.ID, err)
		}
	}
	for _, evt := range ch.Events {
		if err := j.events.AppendEvent(ctx, tx, evt); err != nil {
			return fmt.Errorf("append event %s: %w", evt.Type, err)
		}
	}
	return tx.Commit()
}
