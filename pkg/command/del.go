package command

import (
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Del removes one or more keys.
type Del struct {
	keys []string
}

func parseDel(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return nil, wrongArgCount("DEL")
	}
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return Del{keys: keys}, nil
}

// Apply returns the number of keys actually removed.
func (d Del) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	return resp.Int(int64(db.BulkDel(d.keys)))
}
