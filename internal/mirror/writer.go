package mirror

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/pkg/types"
)

const (
	backoffInitial    = 100 * time.Millisecond
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0

	// DefaultQueueSize is used when NewWriter is given a non-positive size.
	DefaultQueueSize = 1024
	// DefaultWriteTimeout bounds one Update against the store.
	DefaultWriteTimeout = 5 * time.Second
)

// Update is one write-through of registry state. Nil or empty fields are
// skipped. Config identifies the adapter and drives the TTL of every
// adapter-scoped write; it is rewritten with every status so it never
// expires before the status does. A status write also recomputes the
// shared summary from every status in the store.
type Update struct {
	Config    types.AdapterHealthConfig
	Register  bool
	Status    *types.AdapterHealthStatus
	Errors    []types.ItemError // push order: the last element is the newest
	ItemStats map[string]types.ItemStatistics
}

// Writer buffers Updates and applies them to a Mirror in the background.
// Publish is non-blocking; when the buffer is full the oldest update is
// evicted. Run must be called in a goroutine to drain the buffer.
type Writer struct {
	mirror  *Mirror
	buf     chan Update
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a Writer with a buffer of size updates.
func NewWriter(m *Mirror, size int, timeout time.Duration, logger *slog.Logger) *Writer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		mirror:  m,
		buf:     make(chan Update, size),
		timeout: timeout,
		logger:  logger.With("component", "mirror-writer"),
	}
}

// Publish enqueues u. If the buffer is full the oldest update is evicted.
func (w *Writer) Publish(u Update) {
	for {
		select {
		case w.buf <- u:
			return
		default:
		}
		select {
		case old := <-w.buf:
			w.logger.Warn("mirror: buffer full, evicted oldest update",
				"adapter", old.Config.AdapterID, "buffer_cap", cap(w.buf))
		default:
		}
	}
}

// Pending returns the number of buffered updates.
func (w *Writer) Pending() int { return len(w.buf) }

// Run drains the buffer until ctx is cancelled. A failed update is logged
// and dropped, and the writer backs off before applying the next one.
func (w *Writer) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.buf:
			if err := w.apply(ctx, u); err != nil {
				wait := bo.next()
				w.logger.Error("mirror: write failed, update dropped",
					"adapter", u.Config.AdapterID,
					"err", err,
					"retry_in", wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			bo.reset()
		}
	}
}

// Flush applies every buffered update synchronously. It is used on shutdown
// after Run has returned.
func (w *Writer) Flush(ctx context.Context) {
	for {
		select {
		case u := <-w.buf:
			if err := w.apply(ctx, u); err != nil {
				w.logger.Warn("mirror: flush write failed", "adapter", u.Config.AdapterID, "err", err)
			}
		default:
			return
		}
	}
}

func (w *Writer) apply(ctx context.Context, u Update) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var errs error
	if u.Register || u.Status != nil {
		errs = errors.CombineErrors(errs, w.mirror.WriteConfig(ctx, u.Config))
	}
	if u.Status != nil {
		errs = errors.CombineErrors(errs, w.mirror.WriteStatus(ctx, u.Config, *u.Status))
	}
	if len(u.Errors) > 0 {
		errs = errors.CombineErrors(errs, w.mirror.PushErrors(ctx, u.Config, u.Errors))
	}
	for item, s := range u.ItemStats {
		errs = errors.CombineErrors(errs, w.mirror.WriteItemStats(ctx, u.Config, item, s))
	}
	if u.Status != nil {
		_, err := w.mirror.RefreshSummary(ctx)
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
