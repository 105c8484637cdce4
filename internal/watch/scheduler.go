package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/rsspinger/internal/feed"
	"github.com/ppiankov/rsspinger/internal/store"
)

var (
	// ErrInvalidInterval is returned by Start for a zero or negative interval.
	ErrInvalidInterval = errors.New("watch: interval must be positive")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("watch: scheduler is closed")
)

// Source returns the current feed snapshot.
type Source interface {
	Fetch(ctx context.Context) (feed.Snapshot, error)
}

// Sink delivers one text message to a chat.
type Sink interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Journal records ticks and deliveries. It is never read back.
type Journal interface {
	RecordTick(ctx context.Context, in store.TickInput) error
	RecordDelivery(ctx context.Context, in store.DeliveryInput) error
}

// Options configures a Scheduler. Source, Sink and Format are required.
type Options struct {
	Source  Source
	Sink    Sink
	Format  func(feed.Item) string
	Journal Journal // optional
	Logger  *zap.Logger

	// SkipBacklog marks the current feed as seen on a subscriber's first successful poll
	// instead of delivering it.
	SkipBacklog bool
}

// Scheduler runs one cancellable periodic task per subscriber.
type Scheduler struct {
	ctx         context.Context
	source      Source
	sink        Sink
	format      func(feed.Item) string
	journal     Journal
	log         *zap.Logger
	skipBacklog bool
	now         func() time.Time

	mu     sync.Mutex
	tasks  map[int64]*task
	closed bool
	wg     sync.WaitGroup
}

// task is one timer loop for a subscriber. Replacements share ctx and cancel, so Stop and
// Close reach a retired task that is still finishing its batch.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	retire chan struct{} // closed when a newer task replaces this one
	done   chan struct{}

	mu    sync.Mutex
	state State
}

func (t *task) snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) set(st State) {
	t.mu.Lock()
	t.state = st
	t.mu.Unlock()
}

// NewScheduler creates a scheduler whose tasks live at most as long as ctx.
func NewScheduler(ctx context.Context, opts Options) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, errors.New("watch: source is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("watch: sink is required")
	}
	if opts.Format == nil {
		return nil, errors.New("watch: format is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Scheduler{
		ctx:         ctx,
		source:      opts.Source,
		sink:        opts.Sink,
		format:      opts.Format,
		journal:     opts.Journal,
		log:         log.Named("watch"),
		skipBacklog: opts.SkipBacklog,
		now:         time.Now,
		tasks:       make(map[int64]*task),
	}, nil
}

// Start begins watching for sub, replacing any running watch. A replaced watch finishes the
// batch it is delivering and hands its last seen id to the new one, so only the interval
// changes. The returned state carries the marker as of the call.
func (s *Scheduler) Start(sub int64, interval time.Duration) (State, error) {
	if interval <= 0 {
		return State{}, ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}

	st := State{Interval: interval}
	t := &task{retire: make(chan struct{}), done: make(chan struct{})}
	prev, replacing := s.tasks[sub]
	if replacing {
		close(prev.retire)
		t.ctx, t.cancel = prev.ctx, prev.cancel
		st.LastSeenID = prev.snapshot().LastSeenID
	} else {
		t.ctx, t.cancel = context.WithCancel(s.ctx)
	}
	t.state = st
	s.tasks[sub] = t

	s.wg.Add(1)
	go s.run(sub, t, prev)

	s.log.Info("watch started",
		zap.Int64("chat_id", sub),
		zap.Duration("interval", interval),
		zap.Bool("replaced", replacing),
		zap.String("last_seen_id", st.LastSeenID),
	)
	return st, nil
}

// Stop cancels the watch for sub, including a replaced task still finishing its batch, and
// reports whether there was one.
func (s *Scheduler) Stop(sub int64) bool {
	s.mu.Lock()
	t, ok := s.tasks[sub]
	if ok {
		delete(s.tasks, sub)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	s.log.Info("watch stopped", zap.Int64("chat_id", sub))
	return true
}

// Status returns a copy of the state of sub's watch.
func (s *Scheduler) Status(sub int64) (State, bool) {
	s.mu.Lock()
	t, ok := s.tasks[sub]
	s.mu.Unlock()

	if !ok {
		return State{}, false
	}
	return t.snapshot(), true
}

// Close stops every watch and waits for running ticks to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for sub, t := range s.tasks {
		t.cancel()
		delete(s.tasks, sub)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run re-arms the timer only after a tick has finished, so ticks never overlap. A task that
// replaced prev waits for prev to exit and takes over its final marker before its first tick.
func (s *Scheduler) run(sub int64, t *task, prev *task) {
	defer s.wg.Done()
	defer close(t.done)

	ctx := t.ctx
	if prev != nil {
		select {
		case <-ctx.Done():
			return
		case <-prev.done:
		}
		st := t.snapshot()
		st.LastSeenID = prev.snapshot().LastSeenID
		t.set(st)
	}

	interval := t.snapshot().Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.retire:
			return
		case <-timer.C:
		}

		s.tick(ctx, sub, t)
		timer.Reset(interval)
	}
}

func (s *Scheduler) tick(ctx context.Context, sub int64, t *task) {
	tickID := uuid.NewString()
	log := s.log.With(zap.Int64("chat_id", sub), zap.String("tick_id", tickID))

	rec := store.TickInput{ID: tickID, ChatID: sub, StartedAt: s.now()}
	defer func() {
		rec.FinishedAt = s.now()
		s.recordTick(ctx, rec, log)
	}()

	snap, err := s.source.Fetch(ctx)
	if err != nil {
		rec.Err = err.Error()
		log.Warn("tick skipped", zap.Error(err))
		return
	}
	rec.Fetched = len(snap)

	st := t.snapshot()
	var items []feed.Item
	if st.LastSeenID == "" && s.skipBacklog {
		st = Prime(snap, st)
		if st.LastSeenID != "" {
			log.Info("backlog skipped", zap.Int("items", len(snap)), zap.String("last_seen_id", st.LastSeenID))
		}
	} else {
		items, st = Poll(snap, st)
	}
	t.set(st)
	rec.New = len(items)

	if len(items) == 0 {
		log.Debug("no new items", zap.Int("fetched", len(snap)))
		return
	}
	log.Info("new items", zap.Int("count", len(items)), zap.String("last_seen_id", st.LastSeenID))

	for i, it := range items {
		if ctx.Err() != nil {
			log.Info("watch cancelled mid-batch", zap.Int("undelivered", len(items)-i))
			return
		}
		s.deliver(ctx, sub, tickID, it, log)
	}
}

func (s *Scheduler) deliver(ctx context.Context, sub int64, tickID string, it feed.Item, log *zap.Logger) {
	rec := store.DeliveryInput{
		TickID:   tickID,
		ChatID:   sub,
		ItemID:   it.ID,
		Title:    it.Title,
		Link:     it.Link,
		MediaURL: it.MediaURL,
	}

	if err := s.sink.Deliver(ctx, sub, s.format(it)); err != nil {
		rec.Err = err.Error()
		log.Warn("delivery failed", zap.String("item_id", it.ID), zap.Error(err))
	} else {
		log.Debug("delivered", zap.String("item_id", it.ID))
	}
	rec.DeliveredAt = s.now()

	if s.journal == nil {
		return
	}
	if err := s.journal.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("journal delivery", zap.Error(err))
	}
}

func (s *Scheduler) recordTick(ctx context.Context, rec store.TickInput, log *zap.Logger) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordTick(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("journal tick", zap.Error(err))
	}
}
