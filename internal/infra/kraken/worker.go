package kraken

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"krader/internal/domain"
	"krader/internal/infra"
)

// SessionState is the connection session lifecycle state.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateSubscribing
	StateLive
	StateDegraded
)

// String returns the state name surfaced in lifecycle events.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateSubscribing:
		return "Subscribing"
	case StateLive:
		return "Live"
	case StateDegraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// Subscription channel kinds.
const (
	SubTicker = ChannelTicker
	SubBook   = ChannelBook
)

type subKey struct {
	pair    domain.Pair
	channel string
}

// WorkerConfig carries the connection tunables. Every timeout is
// bounded; zero values are rejected by infra.Config before they get here.
type WorkerConfig struct {
	URL              string
	BookDepth        int
	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	LivenessTimeout  time.Duration
	ReadTimeout      time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

// Worker owns one logical streaming session: connect, subscribe,
// heartbeat/liveness, reconnect-with-backoff and resubscription after
// reconnect. Decoded data messages flow to the engine inbox; lifecycle
// changes and resync demands surface through callbacks.
type Worker struct {
	cfg      WorkerConfig
	inbox    chan<- Message
	onState  func(SessionState)     // lifecycle notifications, may be nil
	onResync func(pair domain.Pair) // book resync demands after reconnect, may be nil

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	state     atomic.Int32
	connected bool

	subs    map[subKey]struct{} // desired subscriptions, survive reconnects
	pending map[uint64]subKey   // sent this session, awaiting ack
	resent  map[subKey]bool     // already re-sent once after ack timeout
	subsMu  sync.Mutex
	wasLive bool // a prior session reached Live; resubscribed books need resync

	reqID   atomic.Uint64
	session atomic.Uint64 // bumped per transport session, ties timers to their session
	lastRx  atomic.Int64  // unix nanos of the last inbound frame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker for the given endpoint. Nothing connects
// until Connect is called.
func NewWorker(cfg WorkerConfig, inbox chan<- Message, onState func(SessionState), onResync func(domain.Pair)) *Worker {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		inbox:    inbox,
		onState:  onState,
		onResync: onResync,
		subs:     make(map[subKey]struct{}),
		pending:  make(map[uint64]subKey),
		resent:   make(map[subKey]bool),
	}
}

// State returns the current session state.
func (w *Worker) State() SessionState {
	return SessionState(w.state.Load())
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Connect starts the connection loop with automatic reconnection.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// Disconnect stops the session and releases the transport.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.setState(StateDisconnected)
	slog.Info("Feed disconnected")
}

// Subscribe registers interest in a (pair, channel). Idempotent; if a
// session is up the control frame goes out immediately, otherwise it is
// replayed on the next (re)connect.
func (w *Worker) Subscribe(pair domain.Pair, channel string) {
	key := subKey{pair: pair, channel: channel}

	w.subsMu.Lock()
	if _, ok := w.subs[key]; ok {
		w.subsMu.Unlock()
		return
	}
	w.subs[key] = struct{}{}
	w.subsMu.Unlock()

	if w.sessionUp() {
		w.sendSubscribe(key)
	}
}

// Unsubscribe removes interest in a (pair, channel). Idempotent.
func (w *Worker) Unsubscribe(pair domain.Pair, channel string) {
	key := subKey{pair: pair, channel: channel}

	w.subsMu.Lock()
	if _, ok := w.subs[key]; !ok {
		w.subsMu.Unlock()
		return
	}
	delete(w.subs, key)
	delete(w.resent, key)
	w.subsMu.Unlock()

	if w.sessionUp() {
		w.sendControl("unsubscribe", key)
	}
}

// RequestBookSnapshot asks the feed for a fresh book snapshot by
// re-sending the book subscribe; the feed answers every book subscribe
// with a snapshot frame. This is the reconciler's resync path.
func (w *Worker) RequestBookSnapshot(pair domain.Pair) {
	infra.GlobalMetrics.RecordResync()
	if w.sessionUp() {
		w.sendControl("subscribe", subKey{pair: pair, channel: SubBook})
	}
	// Not connected: the pending reconnect replays all subscriptions,
	// which produces the snapshot anyway.
}

// connectionLoop handles connection and reconnection with exponential backoff
func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed worker panic recovered", slog.Any("panic", r))
		}
	}()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = w.cfg.BackoffInitial
	backoffCfg.MaxInterval = w.cfg.BackoffMax
	backoffCfg.Multiplier = 2.0
	backoffCfg.RandomizationFactor = 0.5

	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed connection loop stopped")
			return
		default:
		}

		w.setState(StateConnecting)
		if err := w.connect(ctx); err != nil {
			w.setState(StateDisconnected)
			infra.GlobalMetrics.RecordReconnect()

			delay := backoffCfg.NextBackOff()
			if delay == backoff.Stop {
				delay = w.cfg.BackoffMax
			}
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		backoffCfg.Reset()

		// Blocks until the transport drops.
		w.readLoop(ctx)
		w.setState(StateDisconnected)
		infra.GlobalMetrics.RecordReconnect()
	}
}

// connect dials the endpoint and replays every desired subscription.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	w.session.Add(1)
	w.lastRx.Store(time.Now().UnixNano())
	w.setState(StateSubscribing)

	if err := w.resubscribeAll(); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("subscribe", err)
	}

	w.wg.Add(1)
	go w.livenessLoop(ctx)

	w.armAckTimeout()

	slog.Info("Feed connected", slog.String("url", w.cfg.URL))
	return nil
}

// resubscribeAll replays the desired subscription set into a fresh
// session and, after a previously Live session, tells the reconciler
// every affected book needs a resync.
func (w *Worker) resubscribeAll() error {
	w.subsMu.Lock()
	w.pending = make(map[uint64]subKey)
	w.resent = make(map[subKey]bool)
	keys := make([]subKey, 0, len(w.subs))
	for key := range w.subs {
		keys = append(keys, key)
	}
	replayed := w.wasLive
	w.subsMu.Unlock()

	for _, key := range keys {
		if replayed && key.channel == SubBook && w.onResync != nil {
			w.onResync(key.pair)
		}
		if err := w.sendSubscribe(key); err != nil {
			return err
		}
	}

	// Nothing to subscribe: the session is trivially live.
	if len(keys) == 0 {
		w.setState(StateLive)
	}
	return nil
}

// sendSubscribe sends one subscribe frame and tracks the pending ack.
func (w *Worker) sendSubscribe(key subKey) error {
	id := w.reqID.Add(1)
	w.subsMu.Lock()
	w.pending[id] = key
	w.subsMu.Unlock()
	return w.sendControlWithID("subscribe", key, id)
}

func (w *Worker) sendControl(method string, key subKey) error {
	return w.sendControlWithID(method, key, w.reqID.Add(1))
}

func (w *Worker) sendControlWithID(method string, key subKey, id uint64) error {
	req := subscribeRequest{
		Method: method,
		Params: subscribeParams{
			Channel: key.channel,
			Symbol:  []string{key.pair.String()},
		},
		ReqID: id,
	}
	if key.channel == SubBook {
		req.Params.Depth = w.cfg.BookDepth
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// armAckTimeout bounds the Subscribing state: when it elapses with acks
// still missing, the missing subscriptions are re-sent once and the
// session goes Live on partial success. The timer belongs to the
// session that armed it; after a reconnect the old timer must not touch
// the new session's bookkeeping.
func (w *Worker) armAckTimeout() {
	gen := w.session.Load()
	time.AfterFunc(w.cfg.AckTimeout, func() {
		// The session either went Live, dropped, or was replaced.
		if w.session.Load() != gen || w.State() != StateSubscribing {
			return
		}

		w.subsMu.Lock()
		if w.session.Load() != gen {
			w.subsMu.Unlock()
			return
		}
		missing := make([]subKey, 0, len(w.pending))
		for _, key := range w.pending {
			if !w.resent[key] {
				missing = append(missing, key)
				w.resent[key] = true
			}
		}
		w.pending = make(map[uint64]subKey)
		w.subsMu.Unlock()

		for _, key := range missing {
			slog.Warn("Subscription ack missing, re-sending",
				slog.String("pair", key.pair.String()),
				slog.String("channel", key.channel),
			)
			w.sendSubscribe(key)
		}

		w.setState(StateLive)
	})
}

// livenessLoop watches for heartbeat silence. A quiet wire degrades the
// session; any inbound frame restores it (see touch).
func (w *Worker) livenessLoop(ctx context.Context) {
	defer w.wg.Done()

	interval := w.cfg.LivenessTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.IsConnected() {
				return
			}
			silent := time.Since(time.Unix(0, w.lastRx.Load()))
			if silent > w.cfg.LivenessTimeout && w.State() == StateLive {
				slog.Warn("Feed silent beyond liveness timeout", slog.Duration("silent", silent))
				w.setState(StateDegraded)
			}
		}
	}
}

// touch records an inbound frame and lifts a degraded session back to Live.
func (w *Worker) touch() {
	w.lastRx.Store(time.Now().UnixNano())
	if w.State() == StateDegraded {
		w.setState(StateLive)
	}
}

// readLoop reads frames until the transport drops.
func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Feed read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		w.touch()
		w.handleFrame(raw)
	}
}

// handleFrame decodes one frame, consumes session control messages and
// forwards data messages to the engine inbox.
func (w *Worker) handleFrame(raw []byte) {
	start := time.Now()

	msg, err := Decode(raw)
	if err != nil {
		infra.GlobalMetrics.RecordDecodeError()
		slog.Debug("Dropping undecodable frame", slog.Any("error", err))
		return
	}
	infra.GlobalMetrics.RecordFrame(time.Since(start).Nanoseconds())

	switch m := msg.(type) {
	case Heartbeat:
		// Liveness already recorded by touch.
	case *SubscriptionAck:
		w.handleAck(m.ReqID)
	case *SubscriptionReject:
		w.handleReject(m)
	default:
		w.forward(msg)
	}
}

func (w *Worker) handleAck(reqID uint64) {
	w.subsMu.Lock()
	delete(w.pending, reqID)
	drained := len(w.pending) == 0
	w.subsMu.Unlock()

	if drained && w.State() == StateSubscribing {
		w.setState(StateLive)
	}
}

func (w *Worker) handleReject(m *SubscriptionReject) {
	w.subsMu.Lock()
	key, ok := w.pending[m.ReqID]
	delete(w.pending, m.ReqID)
	drained := len(w.pending) == 0
	retry := ok && m.Transient && !w.resent[key]
	if retry {
		w.resent[key] = true
	}
	w.subsMu.Unlock()

	if retry {
		slog.Warn("Transient subscription rejection, retrying",
			slog.String("pair", key.pair.String()),
			slog.String("channel", key.channel),
			slog.String("reason", m.Reason),
		)
		w.sendSubscribe(key)
	} else {
		// Surfaced to consumers; not retried automatically.
		w.forward(m)
	}

	if drained && !retry && w.State() == StateSubscribing {
		w.setState(StateLive)
	}
}

// forward pushes a data message to the engine inbox without ever
// blocking the read loop.
func (w *Worker) forward(msg Message) {
	select {
	case w.inbox <- msg:
	default:
		infra.GlobalMetrics.RecordInboxDrop()
		slog.Warn("Engine inbox full, dropping message")
		switch m := msg.(type) {
		case *BookDelta:
			ReleaseBookDelta(m)
		case *TickerUpdate:
			ReleaseTickerUpdate(m)
		}
	}
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return domain.ErrConnectionFailed
	}
	return conn.WriteMessage(messageType, data)
}

func (w *Worker) sessionUp() bool {
	s := w.State()
	return s == StateSubscribing || s == StateLive || s == StateDegraded
}

// setState transitions the session state, notifying on change.
func (w *Worker) setState(next SessionState) {
	prev := SessionState(w.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if next == StateLive {
		w.subsMu.Lock()
		w.wasLive = true
		w.subsMu.Unlock()
	}
	infra.GlobalMetrics.SetSessionLive(next == StateLive)
	slog.Debug("Session state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
	if w.onState != nil {
		w.onState(next)
	}
}

// closeConnection safely closes the WebSocket connection
func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}
