package command

import (
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Ping replies PONG, or echoes its optional message.
type Ping struct {
	msg    string
	hasMsg bool
}

func parsePing(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return Ping{}, nil
	}
	return Ping{msg: string(args[0]), hasMsg: true}, nil
}

// Apply returns PONG as a simple string, or the message as a bulk string
// when one was provided.
func (p Ping) Apply(*store.DB, *replication.Replication) resp.Value {
	if p.hasMsg {
		return resp.BulkString(p.msg)
	}
	return resp.SimpleString("PONG")
}
