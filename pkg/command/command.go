// Package command models the commands supported by nimblecache: parsing
// from a RESP command frame, execution against the shared store and
// replication state, and the MULTI pipeline queue.
package command

import (
	"fmt"
	"strings"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Command is a parsed, executable command.
type Command interface {
	// Apply executes the command and returns its RESP reply. Execution
	// failures surface as SimpleError replies, never as Go errors; the
	// connection stays healthy.
	Apply(db *store.DB, repl *replication.Replication) resp.Value
}

// Replicable is implemented by write commands (SET, LPUSH, RPUSH). The
// returned frame is what the master broadcasts to its replicas.
type Replicable interface {
	Command
	ReplicationFrame() resp.Value
}

// UnknownCommandError reports a command name with no handler.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return "Unknown command: " + e.Name
}

func wrongArgCount(cmd string) error {
	return fmt.Errorf("Wrong number of arguments specified for '%s' command", cmd)
}

// Parse builds a Command from the arguments of a RESP command frame. The
// first argument is the command name, matched case-insensitively; the frame
// reader has already guaranteed every argument is a bulk string.
func Parse(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("Invalid command format")
	}
	name := string(args[0])
	rest := args[1:]

	switch strings.ToLower(name) {
	case "ping":
		return parsePing(rest)
	case "info":
		return parseInfo(rest)
	case "multi":
		return Multi{}, nil
	case "exec":
		return Exec{}, nil
	case "discard":
		return Discard{}, nil
	case "quit":
		return Quit{}, nil
	case "set":
		return parseSet(rest)
	case "get":
		return parseGet(rest)
	case "del":
		return parseDel(rest)
	case "lpush":
		return parseLPush(rest)
	case "rpush":
		return parseRPush(rest)
	case "lrange":
		return parseLRange(rest)
	case "psync":
		return parsePsync(rest)
	default:
		return nil, &UnknownCommandError{Name: name}
	}
}

// Multi opens a command pipeline. Queueing is handled by the connection
// handler; Apply only produces the acknowledgement.
type Multi struct{}

func (Multi) Apply(*store.DB, *replication.Replication) resp.Value {
	return resp.SimpleString("OK")
}

// Exec runs a pipeline. Execution of the queue is handled by the connection
// handler through MultiState.
type Exec struct{}

func (Exec) Apply(*store.DB, *replication.Replication) resp.Value {
	return resp.Null
}

// Discard drops a pipeline. Queue clearing is handled by the connection
// handler.
type Discard struct{}

func (Discard) Apply(*store.DB, *replication.Replication) resp.Value {
	return resp.SimpleString("OK")
}

// Quit acknowledges and lets the handler close the connection.
type Quit struct{}

func (Quit) Apply(*store.DB, *replication.Replication) resp.Value {
	return resp.SimpleString("OK")
}
