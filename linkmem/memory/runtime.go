package memory

import (
	"context"
	"time"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/rs/zerolog"
)

// Options carries the collaborators shared by every component. The zero
// value is usable: a disabled logger, no tracing, no metrics and the
// default operation timeout.
type Options struct {
	Logger  zerolog.Logger
	Tracer  ports.Tracer
	Metrics *MetricsCollector

	// OpTimeout bounds an operation whose context has no deadline.
	OpTimeout time.Duration

	// Now is the clock used for stamped fields and snapshot keys.
	Now func() time.Time

	// ScanCount and ScanConcurrency tune key enumeration.
	ScanCount       int
	ScanConcurrency int
}

func (o Options) withDefaults() Options {
	if o.Tracer == nil {
		o.Tracer = ports.NoopTracer{}
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = internal.DefaultOpTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ScanCount <= 0 {
		o.ScanCount = internal.DefaultScanCount
	}
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = internal.DefaultScanConcurrency
	}
	return o
}

// base is embedded by every component. It owns the KV handle and the
// per-operation bookkeeping.
type base struct {
	kv        ports.KV
	component string
	logger    zerolog.Logger
	opts      Options
}

func newBase(kv ports.KV, component string, opts Options) base {
	opts = opts.withDefaults()
	return base{
		kv:        kv,
		component: component,
		logger:    opts.Logger.With().Str("component", component).Logger(),
		opts:      opts,
	}
}

// begin starts an operation: it applies the default timeout, opens a span
// and returns a func to be deferred with a pointer to the named error result.
// The deferred func finishes the span, records metrics and logs failures.
func (b *base) begin(ctx context.Context, op string, attrs map[string]any) (context.Context, func(*error)) {
	start := time.Now()

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, b.opts.OpTimeout)
	}
	ctx, finish := b.opts.Tracer.StartSpan(ctx, b.component+"."+op, attrs)

	return ctx, func(errp *error) {
		defer cancel()
		var err error
		if errp != nil {
			err = *errp
		}
		finish(err)
		b.opts.Metrics.RecordOp(b.component, op, time.Since(start), err)
		if err != nil {
			event := b.logger.Error().Err(err).Str("op", op)
			for k, v := range attrs {
				event = event.Interface(k, v)
			}
			event.Msg("Memory operation failed")
		}
	}
}

func (b *base) now() time.Time {
	return b.opts.Now()
}

func (b *base) stamp() string {
	return FormatTimestamp(b.now())
}

// scanIDs enumerates the keys under prefix and returns their id suffixes.
func (b *base) scanIDs(ctx context.Context, prefix string) ([]string, error) {
	keys, err := b.kv.Scan(ctx, prefix+"*", int64(b.opts.ScanCount))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key[len(prefix):])
	}
	return ids, nil
}

func requireID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return nil
}
