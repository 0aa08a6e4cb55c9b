package command

import (
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Get looks up the string value stored against a key.
type Get struct {
	key string
}

func parseGet(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return nil, wrongArgCount("GET")
	}
	return Get{key: string(args[0])}, nil
}

// Apply returns the value as a bulk string, the null bulk string when the
// key is absent, or WRONGTYPE when the key holds a non-string value.
func (g Get) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	val, ok, err := db.Get(g.key)
	if err != nil {
		return resp.SimpleError(err.Error())
	}
	if !ok {
		return resp.Null
	}
	return resp.BulkString(val)
}
