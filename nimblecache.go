// Package nimblecache is an in-memory key/value cache server speaking RESP2
// over TCP. It is built on top of the gnet event loop: each connection
// accumulates bytes into its own buffer, complete command frames are parsed
// out and dispatched against the shared keyspace, and write commands are
// fanned out to connected replicas.
//
// A connection that issues PSYNC is upgraded in place: the FULLRESYNC reply
// is flushed and the socket joins the replication peer registry; no further
// commands are read from it.
package nimblecache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dheerajgopi/nimblecache/pkg/command"
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

const (
	// DefaultMaxClients is the admission semaphore size.
	DefaultMaxClients = 64

	// DefaultAcquireTimeout bounds the wait for an admission permit.
	DefaultAcquireTimeout = 5 * time.Second

	// DefaultReadBufferCap is the initial per-connection read buffer size.
	DefaultReadBufferCap = 8 * 1024

	// DefaultEventLoops is the worker count for command handling.
	DefaultEventLoops = 8

	tcpKeepAlive = 60 * time.Second
)

var errMaxClients = []byte("-max number of clients reached\r\n")

// Options configures the server.
type Options struct {
	// Addr is the listen address in "tcp://host:port" form.
	Addr string

	// MaxClients caps concurrently admitted connections.
	// Defaults to DefaultMaxClients.
	MaxClients int64

	// AcquireTimeout is how long an accepted connection may wait for an
	// admission permit before being turned away.
	// Defaults to DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	// Multicore spreads connections over NumEventLoop event loops.
	Multicore bool

	// NumEventLoop is the event loop count when Multicore is set.
	// Defaults to DefaultEventLoops.
	NumEventLoop int

	// ReadBufferCap overrides the socket read buffer capacity.
	ReadBufferCap int
}

func (o Options) withDefaults() Options {
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.NumEventLoop <= 0 {
		o.NumEventLoop = DefaultEventLoops
	}
	if o.ReadBufferCap <= 0 {
		o.ReadBufferCap = DefaultReadBufferCap
	}
	return o
}

// connState is the per-connection state: the growing read buffer, the MULTI
// pipeline queue, and the admission/upgrade flags.
type connState struct {
	buf   bytes.Buffer
	multi command.MultiState

	mu       sync.Mutex
	admitted bool
	closed   bool

	// peerID is set once the connection has been upgraded to a replica
	// stream by PSYNC.
	peerID string
	peer   bool
}

// Server is the gnet event handler wiring the acceptor, the per-connection
// command loop, the keyspace and the replication plane together.
type Server struct {
	opts Options
	db   *store.DB
	repl *replication.Replication
	pool *ants.Pool
	sem  *semaphore.Weighted
	log  *zap.Logger

	connMu sync.RWMutex
	conns  map[gnet.Conn]*connState

	mu      sync.Mutex
	running bool
	engine  gnet.Engine
}

// NewServer creates a server over the given keyspace and replication state.
// The worker pool is shared with the replication peer writers.
func NewServer(opts Options, db *store.DB, repl *replication.Replication, pool *ants.Pool, log *zap.Logger) *Server {
	if db == nil || repl == nil {
		panic("nimblecache: server requires a store and replication state")
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Server{
		opts:  opts,
		db:    db,
		repl:  repl,
		pool:  pool,
		sem:   semaphore.NewWeighted(opts.MaxClients),
		log:   log.Named("server"),
		conns: make(map[gnet.Conn]*connState),
	}
}

// OnBoot stores the engine handle for shutdown.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.engine = eng
	s.running = true
	s.mu.Unlock()
	return gnet.None
}

// OnShutdown implements gnet.EventHandler.
func (s *Server) OnShutdown(gnet.Engine) {}

// OnTick implements gnet.EventHandler.
func (s *Server) OnTick() (time.Duration, gnet.Action) {
	return 0, gnet.None
}

// OnOpen admits the new connection through the bounded permit pool. When no
// permit is free the connection waits up to AcquireTimeout on a pool worker
// and is turned away with an error reply if the wait expires.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	st := new(connState)
	s.connMu.Lock()
	s.conns[c] = st
	s.connMu.Unlock()

	if s.sem.TryAcquire(1) {
		st.mu.Lock()
		st.admitted = true
		st.mu.Unlock()
		return nil, gnet.None
	}

	wait := func() { s.awaitPermit(c, st) }
	if s.pool != nil {
		if err := s.pool.Submit(wait); err != nil {
			s.log.Error("failed to submit admission wait to pool", zap.Error(err))
			go wait()
		}
	} else {
		go wait()
	}
	return nil, gnet.None
}

// awaitPermit blocks for an admission permit off the event loop. The permit
// is handed back immediately when the connection is already gone.
func (s *Server) awaitPermit(c gnet.Conn, st *connState) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.AcquireTimeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		_ = c.AsyncWrite(errMaxClients, func(c gnet.Conn, _ error) error {
			return c.Close()
		})
		return
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		s.sem.Release(1)
		return
	}
	st.admitted = true
	st.mu.Unlock()

	// Replay whatever arrived while the connection was waiting.
	if err := c.Wake(nil); err != nil {
		s.log.Error("failed to wake admitted connection", zap.Error(err))
	}
}

// OnClose releases the admission permit and drops any replica registration
// held by the connection.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	s.connMu.Lock()
	st, ok := s.conns[c]
	delete(s.conns, c)
	s.connMu.Unlock()

	if err != nil {
		s.log.Debug("connection closed", zap.Error(err))
	}
	if !ok {
		return gnet.None
	}

	st.mu.Lock()
	st.closed = true
	admitted := st.admitted
	st.admitted = false
	st.mu.Unlock()

	if admitted {
		s.sem.Release(1)
	}
	if st.peer {
		s.repl.RemovePeer(st.peerID)
	}
	return gnet.None
}

// OnTraffic drains the socket into the connection buffer, parses complete
// command frames and dispatches them. Incomplete trailing bytes stay in the
// buffer for the next traffic event.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	s.connMu.RLock()
	st, ok := s.conns[c]
	s.connMu.RUnlock()
	if !ok {
		return gnet.Close
	}

	buf, _ := c.Next(-1)

	// A replica stream is write-only from the master's side; anything the
	// peer sends is ignored.
	if st.peer {
		return gnet.None
	}

	if len(buf) > 0 {
		st.buf.Write(buf)
	}

	st.mu.Lock()
	admitted := st.admitted
	st.mu.Unlock()
	if !admitted {
		return gnet.None
	}
	if st.buf.Len() == 0 {
		return gnet.None
	}

	cmds, leftover, perr := resp.ReadCommands(st.buf.Bytes())

	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)

	action := gnet.None
	for _, cmd := range cmds {
		done, act := s.dispatch(c, st, cmd, out)
		if act != gnet.None {
			action = act
		}
		if done {
			break
		}
	}

	if perr != nil {
		// Malformed RESP is fatal for the connection.
		out.B = resp.AppendError(out.B, "ERR "+perr.Error())
		action = gnet.Close
	}

	if len(leftover) > 0 && action == gnet.None && !st.peer {
		tail := append([]byte(nil), leftover...)
		st.buf.Reset()
		st.buf.Write(tail)
	} else {
		st.buf.Reset()
	}

	if len(out.B) > 0 {
		if _, err := c.Write(out.B); err != nil {
			s.log.Error("error sending response", zap.Error(err))
			return gnet.Close
		}
	}
	return action
}

// dispatch executes one command frame. The returned done flag stops frame
// processing for this traffic event (after a PSYNC upgrade or QUIT).
func (s *Server) dispatch(c gnet.Conn, st *connState, cmd resp.Command, out *bytebufferpool.ByteBuffer) (bool, gnet.Action) {
	parsed, err := command.Parse(cmd.Args)
	if err != nil {
		// A command error discards any active pipeline but keeps the
		// connection open.
		if st.multi.IsActive() {
			st.multi.Discard()
		}
		out.B = resp.AppendError(out.B, err.Error())
		return false, gnet.None
	}

	var reply resp.Value

	switch parsed := parsed.(type) {
	case command.Multi:
		if err := st.multi.Init(); err != nil {
			reply = resp.SimpleError(err.Error())
		} else {
			reply = parsed.Apply(s.db, s.repl)
		}

	case command.Exec:
		if st.multi.IsActive() {
			reply = st.multi.Exec(s.db, s.repl)
		} else {
			reply = resp.SimpleError("EXEC without MULTI")
		}

	case command.Discard:
		if st.multi.IsActive() {
			st.multi.Discard()
			reply = parsed.Apply(s.db, s.repl)
		} else {
			reply = resp.SimpleError("DISCARD without MULTI")
		}

	case command.Quit:
		out.B = parsed.Apply(s.db, s.repl).AppendTo(out.B)
		return true, gnet.Close

	case command.Psync:
		return true, s.upgradeToPeer(c, st, parsed, out)

	default:
		if st.multi.IsActive() {
			st.multi.Add(parsed)
			reply = resp.SimpleString("QUEUED")
		} else {
			reply = parsed.Apply(s.db, s.repl)
			if wr, ok := parsed.(command.Replicable); ok && reply.Type != resp.Error {
				s.repl.Broadcast(wr.ReplicationFrame().Bytes())
			}
		}
	}

	out.B = reply.AppendTo(out.B)
	return false, gnet.None
}

// upgradeToPeer flushes the FULLRESYNC reply and moves the socket into the
// replication peer registry. The command loop for this connection ends here.
func (s *Server) upgradeToPeer(c gnet.Conn, st *connState, psync command.Psync, out *bytebufferpool.ByteBuffer) gnet.Action {
	out.B = psync.Apply(s.db, s.repl).AppendTo(out.B)
	if _, err := c.Write(out.B); err != nil {
		s.log.Error("error sending FULLRESYNC", zap.Error(err))
		return gnet.Close
	}
	out.Reset()

	st.peerID = s.repl.AddPeer(&asyncConnWriter{c: c})
	st.peer = true
	return gnet.None
}

// asyncConnWriter adapts a gnet connection into the io.Writer the peer
// writer task drains into. Writes are asynchronous: delivery failures
// surface through the connection close event, which unregisters the peer.
type asyncConnWriter struct {
	c gnet.Conn
}

func (w *asyncConnWriter) Write(b []byte) (int, error) {
	if err := w.c.AsyncWrite(b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ListenAndServe runs the server until Close is called or the engine stops.
// Accepted sockets get TCP_NODELAY and a 60-second keepalive.
func (s *Server) ListenAndServe() error {
	opts := []gnet.Option{
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithTCPKeepAlive(tcpKeepAlive),
		gnet.WithReadBufferCap(s.opts.ReadBufferCap),
	}
	if s.opts.Multicore {
		opts = append(opts,
			gnet.WithMulticore(true),
			gnet.WithNumEventLoop(s.opts.NumEventLoop),
		)
	}

	err := gnet.Run(s, s.opts.Addr, opts...)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return err
}

// Close stops the engine. Safe to call once the server is running.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("server not running")
	}
	s.running = false

	var errs error
	if err := s.engine.Stop(context.Background()); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Addr returns the configured listen address without the scheme prefix.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.opts.Addr, "tcp://")
}
