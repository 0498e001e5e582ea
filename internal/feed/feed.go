package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"washplan/internal/domain"
	"washplan/internal/events"
	"washplan/internal/logging"
)

const (
	defaultInterval = time.Second
	defaultBatch    = 100
	defaultPending  = 1024
)

// ErrOverflow is reported by Subscription.Err when the subscriber fell so
// far behind that the broker dropped it. The consumer should reload from
// the store and subscribe again.
var ErrOverflow = errors.New("feed: subscriber fell behind")

var (
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "washplan_feed_subscribers",
		Help: "Open change feed subscriptions",
	})
	delivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "washplan_feed_changes_total",
		Help: "Changes read from the event log by table",
	}, []string{"table"})
)

// Source is the slice of the repository the broker reads from.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context, projectID string) (int64, error)
}

// Change is one decoded row change. Project or Task carries the row after
// the change, or the removed row for deletes.
type Change struct {
	EventID   int64           `json:"event_id"`
	TS        string          `json:"ts"`
	Op        string          `json:"op"`
	Table     string          `json:"table"`
	ProjectID string          `json:"project_id"`
	EntityID  string          `json:"entity_id"`
	ActorID   string          `json:"actor_id"`
	Project   *domain.Project `json:"project,omitempty"`
	Task      *domain.Task    `json:"task,omitempty"`
}

func (c Change) Deleted() bool { return c.Op == domain.OpDelete }

// Filter selects changes; empty fields match everything.
type Filter struct {
	Table     string
	ProjectID string
}

func (f Filter) match(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.ProjectID != "" && f.ProjectID != c.ProjectID {
		return false
	}
	return true
}

type Options struct {
	Interval time.Duration
	Batch    int
	// MaxPending caps the changes queued for one subscriber.
	MaxPending int
	Log        logrus.FieldLogger
}

// Broker tails the events table and fans changes out to subscribers in
// event order.
type Broker struct {
	src      Source
	interval   time.Duration
	batch      int
	maxPending int
	log        logrus.FieldLogger
	wake       chan struct{}

	pollMu sync.Mutex
	cursor int64
	ready  bool

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroker(src Source, opts Options) *Broker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = defaultPending
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	return &Broker{
		src:        src,
		interval:   opts.Interval,
		batch:      opts.Batch,
		maxPending: opts.MaxPending,
		log:        opts.Log,
		wake:       make(chan struct{}, 1),
		subs:       make(map[*Subscription]struct{}),
	}
}

// Init moves the cursor to the newest event so only later changes are
// delivered.
func (b *Broker) Init(ctx context.Context) error {
	id, err := b.src.LatestEventID(ctx, "")
	if err != nil {
		return err
	}
	b.pollMu.Lock()
	b.cursor = id
	b.ready = true
	b.pollMu.Unlock()
	return nil
}

func (b *Broker) Cursor() int64 {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	return b.cursor
}

// Wake triggers a poll without waiting for the next tick.
func (b *Broker) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	b.pollMu.Lock()
	ready := b.ready
	b.pollMu.Unlock()
	if !ready {
		if err := b.Init(ctx); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-b.wake:
		}
		if err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.log.WithError(err).Warn("feed: poll failed")
		}
	}
}

// Poll reads every event after the cursor and queues it for subscribers.
// It never waits on a subscriber.
func (b *Broker) Poll(ctx context.Context) error {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()
	for {
		evts, err := b.src.EventsAfter(ctx, b.batch, b.cursor, "")
		if err != nil {
			return err
		}
		for _, evt := range evts {
			c := b.decode(evt)
			delivered.WithLabelValues(c.Table).Inc()
			b.publish(c)
			b.cursor = evt.ID
		}
		if len(evts) < b.batch {
			return nil
		}
	}
}

func (b *Broker) decode(evt domain.Event) Change {
	c := Change{
		EventID:   evt.ID,
		TS:        evt.TS,
		Op:        evt.Op,
		Table:     evt.Table,
		ProjectID: evt.ProjectID,
		EntityID:  evt.EntityID,
		ActorID:   evt.ActorID,
	}
	payload, err := events.Decode(evt.Payload)
	if err != nil {
		b.log.WithError(err).WithField("event_id", evt.ID).Warn("feed: bad payload")
		return c
	}
	row := payload.New
	if len(row) == 0 {
		row = payload.Old
	}
	if len(row) == 0 {
		return c
	}
	switch evt.Table {
	case domain.TableProjects:
		var p domain.Project
		if err := json.Unmarshal(row, &p); err == nil {
			c.Project = &p
		}
	case domain.TableTasks:
		var t domain.Task
		if err := json.Unmarshal(row, &t); err == nil {
			c.Task = &t
		}
	}
	return c
}

func (b *Broker) publish(c Change) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.filter.match(c) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()
	for _, s := range targets {
		if !s.enqueue(c) {
			b.log.WithField("pending", b.maxPending).Warn("feed: dropping lagging subscriber")
			s.fail(ErrOverflow)
		}
	}
}

// Subscribe registers a filter. Changes arrive on the subscription's channel
// until Close is called or the subscriber falls behind.
func (b *Broker) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		broker:     b,
		filter:     f,
		maxPending: b.maxPending,
		ch:         make(chan Change),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	subscribers.Inc()
	go s.pump()
	return s
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		subscribers.Dec()
	}
	b.mu.Unlock()
}

// Subscription queues matching changes and hands them out one at a time on
// C, in event order.
type Subscription struct {
	broker     *Broker
	filter     Filter
	maxPending int
	ch         chan Change
	notify     chan struct{}
	done       chan struct{}
	once       sync.Once

	mu     sync.Mutex
	queue  []Change
	closed bool
	err    error
}

// C is closed once the subscription is closed.
func (s *Subscription) C() <-chan Change { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is ErrOverflow when the broker dropped the subscription, nil otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription. Pending undelivered changes are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		s.broker.remove(s)
	})
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// enqueue reports false when the queue is already full.
func (s *Subscription) enqueue(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if len(s.queue) >= s.maxPending {
		return false
	}
	s.queue = append(s.queue, c)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		c := s.queue[0]
		s.queue[0] = Change{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.ch <- c:
		case <-s.done:
			return
		}
	}
}
