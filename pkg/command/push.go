package command

import (
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// LPush prepends values to the head of a list.
type LPush struct {
	key  string
	vals []string
}

func parseLPush(args [][]byte) (Command, error) {
	key, vals, err := parsePushArgs(args, "LPUSH")
	if err != nil {
		return nil, err
	}
	return LPush{key: key, vals: vals}, nil
}

// Apply returns the new list length.
func (p LPush) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	n, err := db.LPush(p.key, p.vals)
	if err != nil {
		return resp.SimpleError(err.Error())
	}
	return resp.Int(int64(n))
}

// ReplicationFrame builds the LPUSH frame broadcast to replicas.
func (p LPush) ReplicationFrame() resp.Value {
	return pushFrame("LPUSH", p.key, p.vals)
}

// RPush appends values to the tail of a list.
type RPush struct {
	key  string
	vals []string
}

func parseRPush(args [][]byte) (Command, error) {
	key, vals, err := parsePushArgs(args, "RPUSH")
	if err != nil {
		return nil, err
	}
	return RPush{key: key, vals: vals}, nil
}

// Apply returns the new list length.
func (p RPush) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	n, err := db.RPush(p.key, p.vals)
	if err != nil {
		return resp.SimpleError(err.Error())
	}
	return resp.Int(int64(n))
}

// ReplicationFrame builds the RPUSH frame broadcast to replicas.
func (p RPush) ReplicationFrame() resp.Value {
	return pushFrame("RPUSH", p.key, p.vals)
}

func parsePushArgs(args [][]byte, name string) (string, []string, error) {
	if len(args) < 2 {
		return "", nil, wrongArgCount(name)
	}
	vals := make([]string, len(args)-1)
	for i, arg := range args[1:] {
		vals[i] = string(arg)
	}
	return string(args[0]), vals, nil
}

func pushFrame(name, key string, vals []string) resp.Value {
	elems := make([]resp.Value, 0, len(vals)+2)
	elems = append(elems, resp.BulkString(name), resp.BulkString(key))
	for _, v := range vals {
		elems = append(elems, resp.BulkString(v))
	}
	return resp.ArrayOf(elems...)
}
