package command

import (
	"fmt"
	"strconv"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// LRange returns a slice of a list, inclusive of both indices. Negative
// indices count back from the tail.
type LRange struct {
	key   string
	start int64
	stop  int64
}

func parseLRange(args [][]byte) (Command, error) {
	if len(args) != 3 {
		return nil, wrongArgCount("LRANGE")
	}
	start, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("Start index should be an integer")
	}
	stop, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("Stop index should be an integer")
	}
	return LRange{key: string(args[0]), start: start, stop: stop}, nil
}

// Apply returns the selected elements as an array of bulk strings, head to
// tail. An absent key yields an empty array.
func (l LRange) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	vals, err := db.LRange(l.key, l.start, l.stop)
	if err != nil {
		return resp.SimpleError(err.Error())
	}
	elems := make([]resp.Value, len(vals))
	for i, v := range vals {
		elems[i] = resp.BulkString(v)
	}
	return resp.ArrayOf(elems...)
}
