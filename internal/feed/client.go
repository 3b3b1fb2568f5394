package feed

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
	"github.com/tablemesh/tablemesh-go/internal/mirror"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/metric"
)

// Tunable defaults. Staleness is judged at three missed ping intervals.
const (
	DefaultDialTimeout  = 3 * time.Second
	DefaultPingInterval = 3 * time.Second

	staleMultiplier = 3

	// Reconnect attempts are throttled to one per second with a small
	// burst, so a flapping server never sees a dial storm.
	reconnectRate  = rate.Limit(1)
	reconnectBurst = 3
)

// SnapshotCache persists per-table row sets across process restarts so a
// fresh client can serve stale reads before the first snapshot arrives.
type SnapshotCache interface {
	SaveTable(table string, rows []*domain.RowRecord) error
	LoadTable(table string) ([]*domain.RowRecord, bool, error)
	DeleteTable(table string) error
}

// Config configures the feed client.
type Config struct {
	// Addr is the host:port of the change feed listener.
	Addr string

	// AppName identifies this client in the greeting handshake.
	AppName string

	DialTimeout  time.Duration
	PingInterval time.Duration

	// MaxFrameSize bounds inbound frames; zero means the default.
	MaxFrameSize int
}

// Client maintains the feed connection and drives the mirror store: it
// subscribes tables, ingests change frames, tracks snapshot rounds, and
// resubscribes everything after a connection loss.
type Client struct {
	cfg      Config
	clientID string

	store   *mirror.Store
	cache   SnapshotCache
	logger  *slog.Logger
	metrics *metric.Metrics

	limiter *rate.Limiter

	// connMu guards conn and rounds. Frame writes are serialized under it;
	// the read loop never holds it while blocked on the socket.
	connMu sync.Mutex
	conn   net.Conn
	rounds map[string]uint64

	lastFrame atomic.Int64 // Unix milliseconds of the last inbound frame

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

// ClientOption configures the feed client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClientMetrics sets the metric set.
func WithClientMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithCache enables warm starts from a bootstrap cache.
func WithCache(cache SnapshotCache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// NewClient creates a feed client bound to a mirror store.
func NewClient(cfg Config, store *mirror.Store, opts ...ClientOption) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		clientID: ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		store:    store,
		logger:   slog.Default(),
		metrics:  metric.Nop(),
		limiter:  rate.NewLimiter(reconnectRate, reconnectBurst),
		rounds:   make(map[string]uint64),
		ctx:      ctx,
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "feed", "client_id", c.clientID)
	return c
}

// ClientID returns the generated client identifier used in the greeting.
func (c *Client) ClientID() string {
	return c.clientID
}

// Subscribe registers a table with the mirror store, warms it from the
// bootstrap cache when one is configured, and announces the subscription
// on the live connection if there is one. The returned reader is usable
// immediately; reads fail or serve stale data until the first snapshot
// round completes.
func (c *Client) Subscribe(tableName string) (*mirror.Reader, error) {
	r, err := c.store.Subscribe(tableName)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		rows, ok, err := c.cache.LoadTable(tableName)
		if err != nil {
			c.logger.Warn("bootstrap cache load failed", "table", tableName, "error", err)
		} else if ok {
			if t, found := c.store.Table(tableName); found && t.WarmLoad(rows) {
				c.metrics.CacheLoads.Inc()
			}
		}
	}

	if err := c.announceSubscription(tableName); err != nil {
		// Not fatal: the run loop resubscribes everything on the next
		// session anyway.
		c.logger.Warn("subscribe announcement failed", "table", tableName, "error", err)
	}
	return r, nil
}

// Unsubscribe tears down a table subscription, tells the server, and
// drops any cached snapshot for it.
func (c *Client) Unsubscribe(r *mirror.Reader) error {
	tableName := r.TableName()

	c.connMu.Lock()
	delete(c.rounds, tableName)
	conn := c.conn
	if conn != nil {
		if err := WriteFrame(conn, &Frame{Op: OpUnsubscribe, Table: tableName}); err != nil {
			c.logger.Warn("unsubscribe frame failed", "table", tableName, "error", err)
		}
	}
	c.connMu.Unlock()

	if c.cache != nil {
		if err := c.cache.DeleteTable(tableName); err != nil {
			c.logger.Warn("cached snapshot delete failed", "table", tableName, "error", err)
		}
	}
	return c.store.Unsubscribe(r)
}

// Start launches the connection loop. Idempotent.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.store.Start()
		go c.run()
	})
}

// Close stops the connection loop and waits for it to exit. The mirror
// store is left open; the owner closes it.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	c.startOnce.Do(func() { close(c.doneCh) }) // never started
	<-c.doneCh
}

func (c *Client) run() {
	defer close(c.doneCh)

	for {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		if err := c.session(); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("feed session ended", "error", err)
		}
		if c.ctx.Err() != nil {
			return
		}

		c.store.MarkAllDisconnected()
		c.metrics.Reconnects.Inc()
	}
}

// session dials, performs the greeting, resubscribes every table with a
// fresh resync round, and runs the read loop until the connection dies.
func (c *Client) session() error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(c.ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return domain.ErrTransport.WithCause(err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	if err := c.send(&Frame{Op: OpGreeting, AppName: c.cfg.AppName, ClientID: c.clientID}); err != nil {
		return err
	}

	for _, tableName := range c.store.TableNames() {
		if err := c.announceSubscription(tableName); err != nil {
			return err
		}
	}
	c.logger.Info("feed session established", "addr", c.cfg.Addr, "tables", len(c.store.TableNames()))

	c.lastFrame.Store(time.Now().UnixMilli())
	pingCtx, stopPinger := context.WithCancel(c.ctx)
	defer stopPinger()
	go c.pinger(pingCtx, conn)

	return c.readLoop(conn)
}

// announceSubscription opens a resync round for the table and sends the
// subscribe frame. A nil connection is fine; the next session covers it.
func (c *Client) announceSubscription(tableName string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	t, ok := c.store.Table(tableName)
	if !ok {
		return nil
	}

	c.rounds[tableName] = t.BeginSync()
	if err := WriteFrame(c.conn, &Frame{Op: OpSubscribe, Table: tableName}); err != nil {
		return domain.ErrTransport.WithCause(err)
	}
	return nil
}

// send writes one frame on the live connection, serialized against other
// writers.
func (c *Client) send(f *Frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return domain.ErrTransport.WithDetails("not connected")
	}
	if err := WriteFrame(c.conn, f); err != nil {
		return domain.ErrTransport.WithCause(err)
	}
	return nil
}

// pinger sends keepalives and closes the connection when no frame at all
// has arrived for three intervals. Closing the socket unblocks the read
// loop; the run loop then reconnects.
func (c *Client) pinger(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	staleAfter := staleMultiplier * c.cfg.PingInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Duration(time.Now().UnixMilli()-c.lastFrame.Load()) * time.Millisecond
			if idle > staleAfter {
				c.logger.Warn("connection stale, forcing reconnect",
					"idle", idle.String(), "error", domain.ErrConnectionStale)
				conn.Close()
				return
			}
			if err := c.send(&Frame{Op: OpPing}); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	for {
		f, err := ReadFrame(conn, c.cfg.MaxFrameSize)
		if err != nil {
			// An intact frame with an undecodable body is a per-event
			// failure: its bytes are consumed, the stream stays framed.
			var decErr *FrameDecodeError
			if errors.As(err, &decErr) {
				c.lastFrame.Store(time.Now().UnixMilli())
				c.metrics.EventsDiscarded.WithLabelValues("undecodable").Inc()
				c.logger.Warn("skipping undecodable frame", "op", decErr.Op.String(), "error", err)
				continue
			}
			if errors.Is(err, io.EOF) && c.ctx.Err() != nil {
				return nil
			}
			return domain.ErrTransport.WithCause(err)
		}

		c.lastFrame.Store(time.Now().UnixMilli())
		if err := c.dispatch(f); err != nil {
			// Event-level failures are logged and skipped; the stream
			// itself is still framed correctly.
			c.logger.Warn("frame dispatch failed", "op", f.Op.String(), "error", err)
		}
	}
}

func (c *Client) dispatch(f *Frame) error {
	switch f.Op {
	case OpPing:
		// Server-initiated keepalive doubles as a liveness signal for
		// every subscribed table.
		for _, tableName := range c.store.TableNames() {
			if t, ok := c.store.Table(tableName); ok {
				t.Heartbeat()
			}
		}
		return c.send(&Frame{Op: OpPong})

	case OpPong:
		return nil

	case OpInitTable:
		t, ok := c.store.Table(f.Table)
		if !ok {
			return domain.ErrTableNotSubscribed.WithDetails(f.Table)
		}
		t.ApplyInitTable(f.Rows)
		c.persistTable(f.Table, t)
		return nil

	case OpSnapshotChunk:
		t, ok := c.store.Table(f.Table)
		if !ok {
			return domain.ErrTableNotSubscribed.WithDetails(f.Table)
		}
		t.ApplyChunk(c.round(f.Table), f.Partition, f.Rows)
		return nil

	case OpSnapshotDone:
		t, ok := c.store.Table(f.Table)
		if !ok {
			return domain.ErrTableNotSubscribed.WithDetails(f.Table)
		}
		if t.CompleteSync(c.round(f.Table)) {
			c.persistTable(f.Table, t)
		}
		return nil

	case OpUpdateRows:
		t, ok := c.store.Table(f.Table)
		if !ok {
			return domain.ErrTableNotSubscribed.WithDetails(f.Table)
		}
		for _, row := range f.Rows {
			if _, err := t.ApplyUpsert(row); err != nil {
				c.logger.Warn("upsert rejected",
					"table", f.Table, "partition", row.PartitionKey, "row", row.RowKey, "error", err)
			}
		}
		return nil

	case OpDeleteRows:
		t, ok := c.store.Table(f.Table)
		if !ok {
			return domain.ErrTableNotSubscribed.WithDetails(f.Table)
		}
		for _, k := range f.Keys {
			t.ApplyDelete(k.PartitionKey, k.RowKey)
		}
		return nil

	case OpError:
		c.logger.Error("server reported error", "message", f.Message)
		return nil

	default:
		c.metrics.EventsDiscarded.WithLabelValues("unknown_op").Inc()
		return domain.ErrInvariant.WithDetails("unroutable opcode " + f.Op.String())
	}
}

func (c *Client) round(tableName string) uint64 {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.rounds[tableName]
}

// persistTable writes a table's live rows to the bootstrap cache after a
// completed snapshot round.
func (c *Client) persistTable(tableName string, t *mirror.Table) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SaveTable(tableName, t.Rows()); err != nil {
		c.logger.Warn("bootstrap cache save failed", "table", tableName, "error", err)
		return
	}
	c.metrics.CacheSaves.Inc()
}
