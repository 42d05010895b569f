package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

// PartStore receives finished parquet parts.
type PartStore interface {
	Put(ctx context.Context, at time.Time, file string, r io.Reader, size int64) (string, error)
}

type Options struct {
	MaxRecords  int
	MaxInterval time.Duration
	Compression string
	TempDir     string
}

// Archiver batches accepted readings into parquet files and uploads them.
// Add may be called from any goroutine.
type Archiver struct {
	parts  PartStore
	opts   Options
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	buf     []Row
	started time.Time
}

func NewArchiver(parts PartStore, opts Options, logger *log.Logger, now func() time.Time) *Archiver {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Archiver{parts: parts, opts: opts, logger: logger, now: now, buf: make([]Row, 0, opts.MaxRecords)}
}

// Add buffers one reading and uploads the batch once it is full.
func (a *Archiver) Add(ctx context.Context, p model.ReadingPayload, receivedAt time.Time) {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.started = a.now()
	}
	a.buf = append(a.buf, FromReading(p, receivedAt))
	var batch []Row
	if len(a.buf) >= a.opts.MaxRecords {
		batch = a.take()
	}
	a.mu.Unlock()

	if batch != nil {
		a.upload(ctx, batch)
	}
}

// take must be called with mu held.
func (a *Archiver) take() []Row {
	batch := a.buf
	a.buf = make([]Row, 0, a.opts.MaxRecords)
	return batch
}

func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// FlushDue uploads the current batch if it is older than MaxInterval,
// or unconditionally when force is set.
func (a *Archiver) FlushDue(ctx context.Context, force bool) {
	a.mu.Lock()
	var batch []Row
	if len(a.buf) > 0 && (force || a.now().Sub(a.started) >= a.opts.MaxInterval) {
		batch = a.take()
	}
	a.mu.Unlock()

	if batch != nil {
		a.upload(ctx, batch)
	}
}

// Run checks the interval every tick and flushes what is left on exit.
func (a *Archiver) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.FlushDue(ctx, false)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.FlushDue(final, true)
			cancel()
			return
		}
	}
}

func (a *Archiver) upload(ctx context.Context, batch []Row) {
	key, err := a.write(ctx, batch)
	if err != nil {
		a.logger.Printf("[archive] batch of %d lost: %v", len(batch), err)
		return
	}
	a.logger.Printf("[archive] uploaded %d readings to %s", len(batch), key)
}

func (a *Archiver) write(ctx context.Context, batch []Row) (string, error) {
	ts := a.now().UTC()
	name := fmt.Sprintf("part-%s-%s.parquet", ts.Format("2006-01-02T15-04-05Z"), uuid.NewString())
	tmp := filepath.Join(a.opts.TempDir, name)
	defer os.Remove(tmp)

	if err := writeParquet(tmp, batch, a.opts.Compression); err != nil {
		return "", fmt.Errorf("write parquet: %w", err)
	}
	f, err := os.Open(tmp)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	return a.parts.Put(ctx, ts, name, f, fi.Size())
}
