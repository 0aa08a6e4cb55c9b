// Package replication implements the master/slave replication plane: the
// master-side peer registry that fans write-command frames out to connected
// replicas, and the slave-side handshake plus replication-stream reader.
package replication

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	masterIDLen = 40
	peerIDLen   = 10
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomID returns a random alphanumeric id of length n.
func randomID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}
	return string(b)
}

// Replication is the process-wide replication state, cloned into every task
// as a capability handle. Interior state is guarded per field.
type Replication struct {
	// ID is the server's replication id, a 40-char alphanumeric string.
	ID string

	offset atomic.Uint64

	masterHost string
	masterPort uint16

	peers *PeerRegistry
}

// NewMaster creates the replication state for a server running as master.
func NewMaster(pool *ants.Pool, log *zap.Logger) *Replication {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replication{
		ID:    randomID(masterIDLen),
		peers: newPeerRegistry(pool, log.Named("replication")),
	}
}

// NewSlave creates the replication state for a server replicating from the
// master at host:port.
func NewSlave(host string, port uint16, pool *ants.Pool, log *zap.Logger) *Replication {
	r := NewMaster(pool, log)
	r.masterHost = host
	r.masterPort = port
	return r
}

// IsSlave reports whether a master host is assigned.
func (r *Replication) IsSlave() bool {
	return r.masterHost != ""
}

// MasterAddr returns the master's host:port. Only meaningful on a slave.
func (r *Replication) MasterAddr() string {
	return fmt.Sprintf("%s:%d", r.masterHost, r.masterPort)
}

// Offset returns the current replication offset.
func (r *Replication) Offset() uint64 {
	return r.offset.Load()
}

// IncrOffset advances the replication offset by n bytes.
func (r *Replication) IncrOffset(n uint64) {
	r.offset.Add(n)
}

// InfoStr renders the replication section body in "<key>:<value>" lines.
// Slaves report only their role.
func (r *Replication) InfoStr() string {
	var s strings.Builder
	s.WriteString("role:")
	if r.IsSlave() {
		s.WriteString("slave")
	} else {
		s.WriteString("master\n")
		fmt.Fprintf(&s, "master_replid:%s\n", r.ID)
		fmt.Fprintf(&s, "master_repl_offset:%d\n", r.Offset())
	}
	return s.String()
}

// AddPeer registers a replica stream and starts its writer task. The
// returned peer id identifies the registration for later removal.
func (r *Replication) AddPeer(w io.Writer) string {
	return r.peers.add(w)
}

// RemovePeer drops a replica registration, stopping its writer task.
func (r *Replication) RemovePeer(id string) {
	r.peers.remove(id)
}

// PeerCount returns the number of connected replicas.
func (r *Replication) PeerCount() int {
	return r.peers.len()
}

// Broadcast fans an encoded write-command frame out to every connected
// replica and advances the offset by the frame length. With no peers the
// frame is skipped entirely, which avoids buffering writes nobody reads.
func (r *Replication) Broadcast(frame []byte) {
	r.offset.Add(uint64(len(frame)))
	r.peers.broadcast(frame)
}
