package command

import (
	"fmt"
	"strconv"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Psync is issued by a replica to begin replication. The master always
// answers FULLRESYNC; partial resynchronization is not supported, and no
// baseline snapshot follows the reply.
type Psync struct {
	replicationID string
	offset        int64
	hasOffset     bool
}

func parsePsync(args [][]byte) (Command, error) {
	if len(args) < 2 {
		return nil, wrongArgCount("PSYNC")
	}

	cmd := Psync{replicationID: string(args[0])}

	offsetStr := string(args[1])
	if offsetStr != "-1" {
		offset, err := strconv.ParseInt(offsetStr, 10, 64)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("Offset should be an integer")
		}
		cmd.offset = offset
		cmd.hasOffset = true
	}
	return cmd, nil
}

// Apply returns the FULLRESYNC reply carrying the master's replication id
// and the offset the replica asked for (-1 when it asked for a full sync).
func (p Psync) Apply(_ *store.DB, repl *replication.Replication) resp.Value {
	offset := "-1"
	if p.hasOffset {
		offset = strconv.FormatInt(p.offset, 10)
	}
	return resp.SimpleString(fmt.Sprintf("FULLRESYNC %s %s", repl.ID, offset))
}
