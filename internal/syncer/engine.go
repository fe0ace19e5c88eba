// Package syncer queues progress deltas and xAPI statements and delivers them
// to the backend, surviving offline periods and backend failures.
package syncer

import (
	"context"
	"sync"

	"github.com/pot-code/course-playback/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBatchSize = 100
	defaultWarnAfter = 5
	// permanent rejections tolerated before an item is dropped
	maxRejections = 2
)

// WarningFunc called once when consecutive transient failures reach the threshold
type WarningFunc func(failures int, err error)

// Engine outbound FIFO queue with offline short-circuit and coalesced replay.
//
// Delivery is at-least-once; the backend merges writes idempotently.
type Engine struct {
	transport Transport
	outbox    Outbox
	logger    *zap.Logger
	batchSize int
	warnAfter int
	onWarning WarningFunc
	onHealed  func()

	flights singleflight.Group

	mu       sync.Mutex
	queue    []*Item
	pending  map[string]*Item // progress items by lesson
	seq      uint64
	online   bool
	closed   bool
	failures int
	warned   bool
}

// EngineOption engine option
type EngineOption func(*Engine)

// WithOutbox mirror the queue into a durable outbox
func WithOutbox(outbox Outbox) EngineOption {
	return func(e *Engine) {
		e.outbox = outbox
	}
}

// WithLogger set logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithBatchSize max items sent per flush
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithWarning surface a warning after n consecutive transient failures,
// healed is called on the next success
func WithWarning(n int, warn WarningFunc, healed func()) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.warnAfter = n
		}
		if warn != nil {
			e.onWarning = warn
		}
		if healed != nil {
			e.onHealed = healed
		}
	}
}

// WithOnline initial connectivity
func WithOnline(online bool) EngineOption {
	return func(e *Engine) {
		e.online = online
	}
}

// NewEngine create an Engine delivering through transport
func NewEngine(transport Transport, options ...EngineOption) *Engine {
	e := &Engine{
		transport: transport,
		outbox:    NewMemoryOutbox(),
		logger:    zap.NewNop(),
		batchSize: defaultBatchSize,
		warnAfter: defaultWarnAfter,
		onWarning: func(int, error) {},
		onHealed:  func() {},
		pending:   make(map[string]*Item),
		online:    true,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Restore load items left in the outbox by a previous session, in their
// original order. Call it before enqueueing anything.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	items, err := e.outbox.Load(ctx)
	if err != nil {
		return 0, err
	}
	var maxSeq uint64
	for _, it := range items {
		if it.Seq > maxSeq {
			maxSeq = it.Seq
		}
	}
	items, folded := coalesceItems(items)

	e.mu.Lock()
	defer e.mu.Unlock()
	if maxSeq > e.seq {
		e.seq = maxSeq
	}
	restored := make([]*Item, 0, len(items))
	for _, it := range items {
		if it.Kind == KindProgress {
			if cur, ok := e.pending[progressKey(it.Progress)]; ok {
				cur.Progress.LessonProgress = domain.MergeLessonProgress(it.Progress.LessonProgress, cur.Progress.LessonProgress)
				e.persist(ctx, cur)
				folded = append(folded, it.Seq)
				continue
			}
		}
		restored = append(restored, it)
	}
	e.queue = append(restored, e.queue...)
	for _, it := range restored {
		if it.Kind == KindProgress {
			e.pending[progressKey(it.Progress)] = it
		}
	}
	if len(folded) > 0 {
		if err := e.outbox.Remove(ctx, folded...); err != nil {
			e.logger.Warn("failed to drop folded outbox items", zap.Error(err))
		}
	}
	return len(restored), nil
}

// EnqueueProgress queue a progress delta, merging it into a pending delta of
// the same lesson
func (e *Engine) EnqueueProgress(ctx context.Context, delta domain.ProgressDelta) {
	delta.LessonProgress = delta.LessonProgress.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()

	key := progressKey(&delta)
	if it, ok := e.pending[key]; ok {
		it.Progress.LessonProgress = domain.MergeLessonProgress(it.Progress.LessonProgress, delta.LessonProgress)
		e.persist(ctx, it)
		return
	}
	it := &Item{Seq: e.nextSeq(ctx), Kind: KindProgress, Progress: &delta}
	e.queue = append(e.queue, it)
	e.pending[key] = it
	e.persist(ctx, it)
}

// EnqueueStatement append a statement, statements are never merged
func (e *Engine) EnqueueStatement(ctx context.Context, stmt domain.XapiStatement) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it := &Item{Seq: e.nextSeq(ctx), Kind: KindStatement, Statement: &stmt}
	e.queue = append(e.queue, it)
	e.persist(ctx, it)
}

// Pending number of queued items
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Online current connectivity
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline record a connectivity transition. Coming back online replays the
// queue once, oldest first; the replay result is returned.
func (e *Engine) SetOnline(ctx context.Context, online bool) (Ack, error) {
	e.mu.Lock()
	reconnected := online && !e.online
	e.online = online
	e.mu.Unlock()

	if !reconnected {
		return Ack{Pending: e.Pending()}, nil
	}
	e.logger.Info("connectivity restored, replaying queue", zap.Int("sync.pending", e.Pending()))
	return e.Flush(ctx)
}

// Close stop accepting flush results, queued items stay in the outbox
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Flush send one batch. Concurrent callers share the in-flight flush.
func (e *Engine) Flush(ctx context.Context) (Ack, error) {
	v, err, _ := e.flights.Do("flush", func() (interface{}, error) {
		return e.flush(ctx)
	})
	ack, _ := v.(Ack)
	return ack, err
}

func (e *Engine) flush(ctx context.Context) (Ack, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Ack{}, domain.ErrSessionClosed
	}
	if !e.online {
		ack := Ack{Pending: len(e.queue)}
		e.mu.Unlock()
		return ack, domain.ErrOffline
	}
	batch := e.take()
	e.mu.Unlock()

	if len(batch) == 0 {
		return Ack{}, nil
	}

	var progressItems, statementItems []*Item
	for _, it := range batch {
		switch it.Kind {
		case KindProgress:
			progressItems = append(progressItems, it)
		case KindStatement:
			statementItems = append(statementItems, it)
		}
	}
	progress := e.deliver(ctx, progressItems)
	statements := e.deliver(ctx, statementItems)

	e.mu.Lock()
	ack := Ack{Progress: len(progress.delivered), Statements: len(statements.delivered)}
	var requeue, dropped []*Item
	var delivered []uint64
	for _, o := range []outcome{progress, statements} {
		for _, it := range o.delivered {
			delivered = append(delivered, it.Seq)
		}
		requeue = append(requeue, o.failed...)
		for _, it := range o.rejected {
			it.Rejections++
			if it.Rejections >= maxRejections {
				dropped = append(dropped, it)
			} else {
				requeue = append(requeue, it)
			}
		}
	}
	ack.Dropped = len(dropped)

	closed := e.closed
	var folded []uint64
	if !closed {
		folded = e.requeue(ctx, requeue)
	}
	ack.Pending = len(e.queue)

	transientErr := multierr.Append(progress.transient, statements.transient)
	err := multierr.Combine(progress.transient, progress.permanent, statements.transient, statements.permanent)
	warn, healed := false, false
	if !closed {
		switch {
		case transientErr != nil:
			e.failures++
			if e.failures >= e.warnAfter && !e.warned {
				e.warned = true
				warn = true
			}
		case err == nil:
			e.failures = 0
			if e.warned {
				e.warned = false
				healed = true
			}
		}
	}
	failures := e.failures
	e.mu.Unlock()

	remove := append(delivered, folded...)
	for _, it := range dropped {
		remove = append(remove, it.Seq)
		e.logger.Error("dropping rejected item",
			zap.Uint64("sync.seq", it.Seq),
			zap.String("sync.kind", string(it.Kind)),
			zap.Error(err))
	}
	if len(remove) > 0 {
		if rerr := e.outbox.Remove(ctx, remove...); rerr != nil {
			e.logger.Warn("failed to remove items from outbox", zap.Error(rerr))
		}
	}

	if closed {
		e.logger.Debug("session closed during flush, result discarded")
		return ack, err
	}
	if err != nil {
		e.logger.Warn("flush failed",
			zap.Int("sync.requeued", len(requeue)),
			zap.Int("sync.dropped", len(dropped)),
			zap.Int("sync.failures", failures),
			zap.Error(err))
	}
	if warn {
		e.onWarning(failures, err)
	}
	if healed {
		e.onHealed()
	}
	return ack, err
}

// outcome per-item result of delivering one kind of items
type outcome struct {
	delivered, failed, rejected []*Item
	transient, permanent        error
}

// deliver send items of one kind as a single batch. A permanently rejected
// batch is resent item by item so only the malformed items count a rejection.
func (e *Engine) deliver(ctx context.Context, items []*Item) outcome {
	var o outcome
	if len(items) == 0 {
		return o
	}
	err := e.send(ctx, items)
	switch {
	case err == nil:
		o.delivered = items
	case !domain.IsPermanentSyncError(err):
		o.failed, o.transient = items, err
	case len(items) == 1:
		o.rejected, o.permanent = items, err
	default:
		e.logger.Debug("batch rejected, isolating items", zap.Int("sync.batch", len(items)), zap.Error(err))
		for _, it := range items {
			ierr := e.send(ctx, []*Item{it})
			switch {
			case ierr == nil:
				o.delivered = append(o.delivered, it)
			case domain.IsPermanentSyncError(ierr):
				o.rejected = append(o.rejected, it)
				o.permanent = multierr.Append(o.permanent, ierr)
			default:
				o.failed = append(o.failed, it)
				o.transient = multierr.Append(o.transient, ierr)
			}
		}
	}
	return o
}

// send one batch of items sharing a kind through the transport
func (e *Engine) send(ctx context.Context, items []*Item) error {
	if items[0].Kind == KindStatement {
		stmts := make([]domain.XapiStatement, len(items))
		for i, it := range items {
			stmts[i] = *it.Statement
		}
		return e.transport.SendStatements(ctx, stmts)
	}
	deltas := make([]domain.ProgressDelta, len(items))
	for i, it := range items {
		deltas[i] = *it.Progress
	}
	return e.transport.SendProgress(ctx, deltas)
}

// take pop up to batchSize items from the queue head. Caller holds mu.
func (e *Engine) take() []*Item {
	n := len(e.queue)
	if n > e.batchSize {
		n = e.batchSize
	}
	batch := make([]*Item, n)
	copy(batch, e.queue[:n])
	e.queue = append([]*Item(nil), e.queue[n:]...)
	for _, it := range batch {
		if it.Kind == KindProgress {
			key := progressKey(it.Progress)
			if e.pending[key] == it {
				delete(e.pending, key)
			}
		}
	}
	return batch
}

// requeue put failed items back at the queue head. Progress enqueued while the
// batch was in flight is folded into the older item. Caller holds mu.
func (e *Engine) requeue(ctx context.Context, items []*Item) []uint64 {
	if len(items) == 0 {
		return nil
	}
	sortItems(items)
	var folded []uint64
	absorbed := make(map[*Item]bool)
	for _, it := range items {
		if it.Kind != KindProgress {
			continue
		}
		key := progressKey(it.Progress)
		if newer, ok := e.pending[key]; ok {
			it.Progress.LessonProgress = domain.MergeLessonProgress(it.Progress.LessonProgress, newer.Progress.LessonProgress)
			absorbed[newer] = true
			folded = append(folded, newer.Seq)
		}
		e.pending[key] = it
	}
	rest := make([]*Item, 0, len(e.queue))
	for _, it := range e.queue {
		if !absorbed[it] {
			rest = append(rest, it)
		}
	}
	e.queue = append(append([]*Item(nil), items...), rest...)
	for _, it := range items {
		e.persist(ctx, it)
	}
	return folded
}

// persist mirror it to the outbox. Caller holds mu.
func (e *Engine) persist(ctx context.Context, it *Item) {
	if err := e.outbox.Put(ctx, it); err != nil {
		e.logger.Warn("failed to persist queued item",
			zap.Uint64("sync.seq", it.Seq),
			zap.String("sync.kind", string(it.Kind)),
			zap.Error(err))
	}
}

// nextSeq allocate from the outbox, falling back to the local counter when it
// is unreachable. Caller holds mu.
func (e *Engine) nextSeq(ctx context.Context) uint64 {
	seq, err := e.outbox.NextSeq(ctx)
	if err != nil {
		e.logger.Warn("failed to allocate outbox sequence", zap.Error(err))
		seq = e.seq + 1
	}
	if seq > e.seq {
		e.seq = seq
	}
	return seq
}
