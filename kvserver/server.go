// Package kvserver implements the TCP request-dispatch server (spec.md
// §4.D): an accept loop multiplexed with a periodic compaction tick and a
// shutdown flag, feeding accepted connections to a worker pool that decodes
// framed requests, calls the engine, and writes framed responses.
//
// Go's net package exposes no way to wait on a listener, a timer, and a flag
// at once the way an epoll/kqueue fd set would — the event loop instead
// re-arms a short accept deadline every iteration and treats each wakeup
// (timeout or otherwise) as a chance to check the timer and the shutdown
// flag, which is the idiomatic Go substitute for that multiplexing and
// mirrors dreamsxin-wal's own background-goroutine-plus-atomic-flag pattern
// (wal.go's runRotate / w.closed).
package kvserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	kvs "github.com/lucasalj/kvs"
	"github.com/lucasalj/kvs/pool"
	"github.com/lucasalj/kvs/wire"
)

// Engine is the storage capability the server depends on, matching spec.md
// §9's "dynamic dispatch over engines": anything satisfying this interface
// (the Bitcask-style kvs.Engine, or boltengine.Engine) can back a Server.
type Engine interface {
	Set(key, value string) error
	Get(key string) (*string, error)
	Remove(key string) error
	Compact() error
}

// DefaultReadTimeout is the per-connection read deadline (spec.md §5).
const DefaultReadTimeout = 3 * time.Second

// DefaultTickPeriod is the compaction-check interval (spec.md §4.D).
const DefaultTickPeriod = 100 * time.Millisecond

// ShutdownTrigger is a thread-safe, one-way flag that instructs a Server's
// event loop to exit at its next wakeup (spec.md §4.D, §6).
type ShutdownTrigger struct {
	flag atomic.Bool
}

// Trigger sets the shutdown flag. Safe to call from any goroutine, any
// number of times.
func (t *ShutdownTrigger) Trigger() { t.flag.Store(true) }

func (t *ShutdownTrigger) isSet() bool { return t.flag.Load() }

// Server owns one engine handle, one thread pool, one TCP listener, and
// drives the event loop described above.
type Server struct {
	engine Engine
	pool   pool.Pool

	logger      log.Logger
	metrics     *serverMetrics
	readTimeout time.Duration
	tickPeriod  time.Duration

	listener *net.TCPListener

	// compacting ensures at most one compaction job is in flight at a
	// time, per spec.md §4.D "Periodic compaction".
	compacting atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for per-connection and compaction
// diagnostics. The default is a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithTickPeriod overrides DefaultTickPeriod.
func WithTickPeriod(d time.Duration) Option {
	return func(s *Server) { s.tickPeriod = d }
}

// WithRegisterer sets the prometheus registerer instruments are registered
// against. The default is a fresh, private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.metrics = newServerMetrics(reg) }
}

// New binds addr and returns a Server plus its ShutdownTrigger. The listener
// is open and ready to accept once New returns; call Serve to run the event
// loop.
func New(addr string, engine Engine, p pool.Pool, opts ...Option) (*Server, *ShutdownTrigger, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("kvserver: invalid address %q: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("kvserver: listen %q: %w", addr, err)
	}

	s := &Server{
		engine:      engine,
		pool:        p,
		logger:      log.NewNopLogger(),
		readTimeout: DefaultReadTimeout,
		tickPeriod:  DefaultTickPeriod,
		listener:    ln,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		// A fresh registry, not prometheus.DefaultRegisterer: tests in this
		// package start several Servers in one process, and the shared
		// default registry panics on a second registration of the same
		// metric names. WithRegisterer opts into sharing one explicitly.
		s.metrics = newServerMetrics(prometheus.NewRegistry())
	}
	return s, &ShutdownTrigger{}, nil
}

// Addr returns the address the server is listening on (useful when addr was
// "IP:0" and the OS chose a port).
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the event loop until trigger fires, returning nil, or the
// listener fails in a way that isn't a plain accept timeout.
func (s *Server) Serve(trigger *ShutdownTrigger) error {
	defer s.listener.Close()

	lastTick := time.Now()
	for {
		if trigger.isSet() {
			return nil
		}

		if err := s.listener.SetDeadline(time.Now().Add(s.tickPeriod)); err != nil {
			return fmt.Errorf("kvserver: set accept deadline: %w", err)
		}

		for {
			conn, err := s.listener.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				if trigger.isSet() {
					return nil
				}
				level.Error(s.logger).Log("msg", "accept error", "err", err)
				break
			}
			s.metrics.connectionsAccepted.Inc()
			s.pool.Spawn(func() { s.handleConn(conn) })
		}

		if time.Since(lastTick) >= s.tickPeriod {
			lastTick = time.Now()
			s.triggerCompaction()
		}
	}
}

// triggerCompaction submits a compaction job unless one is already in
// flight, implementing the single-flight discipline of spec.md §4.D.
func (s *Server) triggerCompaction() {
	if !s.compacting.CompareAndSwap(false, true) {
		return
	}
	s.pool.Spawn(func() {
		defer s.compacting.Store(false)
		if err := s.engine.Compact(); err != nil {
			s.metrics.compactionErrors.Inc()
			level.Error(s.logger).Log("msg", "periodic compaction failed", "err", err)
		}
	})
}

// handleConn implements the per-connection job of spec.md §4.D: set a read
// timeout, decode exactly one request, dispatch it, encode exactly one
// response, close.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		level.Error(s.logger).Log("msg", "set read deadline failed", "err", err)
		return
	}

	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		level.Error(s.logger).Log("msg", "read header failed", "err", err)
		return
	}
	hdr, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		level.Error(s.logger).Log("msg", "decode header failed", "err", err)
		s.writeFatal(conn)
		return
	}

	payload := make([]byte, hdr.PayloadLength)
	if _, err := io.ReadFull(conn, payload); err != nil {
		level.Error(s.logger).Log("msg", "read payload failed", "err", err)
		return
	}
	msg, err := wire.DecodePayload(payload)
	if err != nil {
		level.Error(s.logger).Log("msg", "decode payload failed", "err", err)
		s.writeFatal(conn)
		return
	}

	s.metrics.requestsByType.WithLabelValues(msg.Type().String()).Inc()

	if msg.Type().IsResponse() {
		// A response payload from a client is protocol-violating.
		level.Error(s.logger).Log("msg", "client sent a response-shaped payload", "type", msg.Type())
		s.writeFatal(conn)
		return
	}

	resp := s.dispatch(msg)
	if resp == nil {
		level.Error(s.logger).Log("msg", "dispatch produced no response", "type", msg.Type())
		s.writeFatal(conn)
		return
	}

	buf := make([]byte, wire.HeaderLen+resp.EncodedLen())
	if _, err := wire.EncodeFrame(buf, resp); err != nil {
		level.Error(s.logger).Log("msg", "encode response failed", "err", err)
		return
	}
	if _, err := conn.Write(buf); err != nil {
		level.Error(s.logger).Log("msg", "write response failed", "err", err)
	}
}

func (s *Server) dispatch(msg wire.Message) wire.Message {
	switch m := msg.(type) {
	case wire.ReqSetMsg:
		err := s.engine.Set(m.Key, m.Value)
		return wire.RespSetMsg{Status: statusFor(err)}
	case wire.ReqGetMsg:
		v, err := s.engine.Get(m.Key)
		if err != nil {
			level.Error(s.logger).Log("msg", "get failed", "err", err)
			return wire.RespGetMsg{Status: wire.StatusFatalError}
		}
		return wire.RespGetMsg{Status: wire.StatusOk, Value: v}
	case wire.ReqRemoveMsg:
		err := s.engine.Remove(m.Key)
		return wire.RespRemoveMsg{Status: statusFor(err)}
	default:
		return nil
	}
}

// statusFor maps an engine error to a wire status code, per spec.md §4.D
// "Status mapping".
func statusFor(err error) wire.StatusCode {
	switch {
	case err == nil:
		return wire.StatusOk
	case errors.Is(err, kvs.ErrKeyNotFound):
		return wire.StatusKeyNotFound
	default:
		return wire.StatusFatalError
	}
}

func (s *Server) writeFatal(conn net.Conn) {
	resp := wire.RespSetMsg{Status: wire.StatusFatalError}
	buf := make([]byte, wire.HeaderLen+resp.EncodedLen())
	if _, err := wire.EncodeFrame(buf, resp); err == nil {
		_, _ = conn.Write(buf)
	}
}
