package command

import (
	"errors"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// ErrNestedMulti is returned when MULTI is issued inside an active pipeline.
var ErrNestedMulti = errors.New("MULTI calls cannot be nested")

// MultiState is the per-connection MULTI pipeline: a queue of parsed
// commands executed in one batch on EXEC. Queued commands are not isolated
// from concurrent connections; they observe interleaved writes.
type MultiState struct {
	active bool
	queued []Command
}

// Init opens a pipeline. Opening one inside an active pipeline fails with
// ErrNestedMulti.
func (m *MultiState) Init() error {
	if m.active {
		return ErrNestedMulti
	}
	m.active = true
	return nil
}

// IsActive reports whether a pipeline is open.
func (m *MultiState) IsActive() bool {
	return m.active
}

// Add queues a command for the next EXEC.
func (m *MultiState) Add(cmd Command) {
	m.queued = append(m.queued, cmd)
}

// Len returns the number of queued commands.
func (m *MultiState) Len() int {
	return len(m.queued)
}

// Exec runs the queued commands in submission order and returns their
// replies as one array. Each successful write is fanned out to the replicas.
// The pipeline is discarded afterwards.
func (m *MultiState) Exec(db *store.DB, repl *replication.Replication) resp.Value {
	replies := make([]resp.Value, 0, len(m.queued))
	for _, cmd := range m.queued {
		reply := cmd.Apply(db, repl)
		if wr, ok := cmd.(Replicable); ok && reply.Type != resp.Error {
			repl.Broadcast(wr.ReplicationFrame().Bytes())
		}
		replies = append(replies, reply)
	}
	m.Discard()
	return resp.ArrayOf(replies...)
}

// Discard clears the queue and closes the pipeline.
func (m *MultiState) Discard() {
	m.queued = nil
	m.active = false
}
