package mirror

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/metric"
	"github.com/tablemesh/tablemesh-go/pkg/cmap"
)

// DefaultSweepInterval is the default TTL sweep period. Correctness never
// depends on sweep promptness; read-time filtering is the backstop.
const DefaultSweepInterval = 30 * time.Second

// Store holds one Table per subscribed table and runs the TTL sweeper.
// Tables are fully independent: there is no lock spanning tables.
type Store struct {
	tables *cmap.Map[*Table]

	sweepInterval time.Duration
	serveStale    bool

	logger  *slog.Logger
	metrics *metric.Metrics

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics sets the metric set.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithSweepInterval tunes the TTL sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithBlockDuringSync makes reads of syncing tables return a not-ready
// result instead of serving the last known-good snapshot.
func WithBlockDuringSync() Option {
	return func(s *Store) { s.serveStale = false }
}

// NewStore creates a mirror store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tables:        cmap.New[*Table](),
		sweepInterval: DefaultSweepInterval,
		serveStale:    true,
		logger:        slog.Default(),
		metrics:       metric.Nop(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a table mirror and returns its read handle.
// The name is validated before anything else happens; an invalid name is
// rejected here and never reaches the network.
func (s *Store) Subscribe(tableName string) (*Reader, error) {
	if err := domain.ValidateTableName(tableName); err != nil {
		return nil, err
	}

	t := newTable(tableName, s.serveStale, s.logger, s.metrics)
	if !s.tables.SetIfAbsent(tableName, t) {
		return nil, domain.ErrAlreadySubscribed.WithDetails(tableName)
	}

	s.logger.Info("table subscribed", "table", tableName)
	return &Reader{table: t}, nil
}

// Unsubscribe tears down a table subscription. Safe to call concurrently
// with in-flight applies and reads: they either complete against the last
// consistent state or observe Closed.
func (s *Store) Unsubscribe(r *Reader) error {
	if r == nil || r.table == nil {
		return domain.ErrTableNotSubscribed
	}

	t, ok := s.tables.Pop(r.table.name)
	if !ok {
		return domain.ErrTableNotSubscribed.WithDetails(r.table.name)
	}
	t.Close()
	return nil
}

// Table returns the mirror for a subscribed table.
func (s *Store) Table(tableName string) (*Table, bool) {
	return s.tables.Get(tableName)
}

// TableNames returns subscribed table names in lexicographic order.
func (s *Store) TableNames() []string {
	return s.tables.SortedKeys()
}

// Apply dispatches a change event to its table. Events for unsubscribed
// tables are rejected; snapshot chunk and completion events go through
// Table.ApplyChunk/CompleteSync instead, carrying their round id.
func (s *Store) Apply(ev *domain.ChangeEvent) error {
	t, ok := s.tables.Get(ev.Table)
	if !ok {
		return domain.ErrTableNotSubscribed.WithDetails(ev.Table)
	}

	switch ev.Kind {
	case domain.EventUpsert:
		_, err := t.ApplyUpsert(ev.Row)
		return err
	case domain.EventDelete:
		t.ApplyDelete(ev.PartitionKey, ev.RowKey)
		return nil
	case domain.EventInitTable:
		t.ApplyInitTable(ev.Rows)
		return nil
	case domain.EventHeartbeat:
		t.Heartbeat()
		return nil
	default:
		return domain.ErrInvariant.WithDetails("unroutable event kind " + ev.Kind.String())
	}
}

// MarkAllDisconnected flips every Ready table to Syncing; called by the
// ingestor when the transport session is lost.
func (s *Store) MarkAllDisconnected() {
	s.tables.Range(func(_ string, t *Table) bool {
		t.MarkDisconnected()
		return true
	})
}

// Start launches the TTL sweeper. Idempotent.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		go s.sweepLoop()
	})
}

// Close stops the sweeper and closes every table.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.tables.Range(func(_ string, t *Table) bool {
			t.Close()
			return true
		})
		s.tables.Clear()
	})
}
