package replication

import (
	"io"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// peerChanCap bounds the per-peer outbound queue. A peer that falls this far
// behind is evicted rather than silently dropping frames: a replica that
// misses a write is permanently inconsistent, and eviction makes that
// visible.
const peerChanCap = 64

// Peer is one connected replica: a subscriber channel drained by a dedicated
// writer task into the replica's socket. One writer per peer preserves
// per-peer FIFO without a global lock around the sockets.
type Peer struct {
	id string
	ch chan []byte
	w  io.Writer

	closeOnce sync.Once
}

func (p *Peer) stop() {
	p.closeOnce.Do(func() {
		close(p.ch)
	})
}

// PeerRegistry is the master-side list of connected replicas.
type PeerRegistry struct {
	mu    sync.Mutex
	peers []*Peer

	pool *ants.Pool
	log  *zap.Logger
}

func newPeerRegistry(pool *ants.Pool, log *zap.Logger) *PeerRegistry {
	return &PeerRegistry{pool: pool, log: log}
}

// add registers a replica stream, spawns its writer task and returns the
// peer id.
func (pr *PeerRegistry) add(w io.Writer) string {
	p := &Peer{
		id: randomID(peerIDLen),
		ch: make(chan []byte, peerChanCap),
		w:  w,
	}

	pr.mu.Lock()
	pr.peers = append(pr.peers, p)
	n := len(pr.peers)
	pr.mu.Unlock()

	pr.log.Info("replica connected",
		zap.String("peer", p.id),
		zap.Int("peers", n))

	writer := func() { pr.drain(p) }
	if pr.pool != nil {
		if err := pr.pool.Submit(writer); err != nil {
			pr.log.Error("failed to submit peer writer to pool", zap.Error(err))
			go writer()
		}
	} else {
		go writer()
	}
	return p.id
}

// drain pumps frames from the peer's channel into its socket. On any write
// error the peer removes itself from the registry and the task exits; there
// is no retry and no reconnect.
func (pr *PeerRegistry) drain(p *Peer) {
	for frame := range p.ch {
		if _, err := p.w.Write(frame); err != nil {
			pr.log.Error("error writing to replica",
				zap.String("peer", p.id),
				zap.Error(err))
			pr.remove(p.id)
			return
		}
	}
}

// remove drops the peer from the registry and stops its writer task.
// Removing an unknown id is a no-op.
func (pr *PeerRegistry) remove(id string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for i, p := range pr.peers {
		if p.id == id {
			pr.peers = append(pr.peers[:i], pr.peers[i+1:]...)
			p.stop()
			return
		}
	}
}

// broadcast enqueues the frame for every peer. Peers whose queue is full are
// evicted (see peerChanCap).
func (pr *PeerRegistry) broadcast(frame []byte) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if len(pr.peers) == 0 {
		return
	}

	kept := pr.peers[:0]
	for _, p := range pr.peers {
		select {
		case p.ch <- frame:
			kept = append(kept, p)
		default:
			pr.log.Warn("evicting lagging replica", zap.String("peer", p.id))
			p.stop()
		}
	}
	pr.peers = kept
}

// len returns the number of registered peers.
func (pr *PeerRegistry) len() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.peers)
}
