package command

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// Set stores a string value, optionally with an expiry deadline.
type Set struct {
	key       string
	value     string
	expiresAt time.Time
}

func parseSet(args [][]byte) (Command, error) {
	if len(args) < 2 {
		return nil, wrongArgCount("SET")
	}

	cmd := Set{
		key:   string(args[0]),
		value: string(args[1]),
	}

	// Walk the remaining arguments so every option is parsed, wherever it
	// sits in the list.
	opts := args[2:]
	for i := 0; i < len(opts); {
		next, err := cmd.parseOption(opts, i)
		if err != nil {
			return nil, err
		}
		i = next
	}
	return cmd, nil
}

// parseOption parses one option starting at index i and returns the index of
// the next option.
func (s *Set) parseOption(opts [][]byte, i int) (int, error) {
	switch string(toUpper(opts[i])) {
	case "PX":
		ms, next, err := optionMillis(opts, i, "PX")
		if err != nil {
			return 0, err
		}
		s.expiresAt = time.Now().UTC().Add(time.Duration(ms) * time.Millisecond)
		return next, nil
	case "PXAT":
		ms, next, err := optionMillis(opts, i, "PXAT")
		if err != nil {
			return 0, err
		}
		s.expiresAt = time.UnixMilli(ms).UTC()
		return next, nil
	default:
		return 0, fmt.Errorf("Invalid option specified")
	}
}

// optionMillis reads the integer value following the option name at index i.
func optionMillis(opts [][]byte, i int, name string) (int64, int, error) {
	if i+1 >= len(opts) {
		return 0, 0, fmt.Errorf("Value for %s is not specified. Provide an integer value", name)
	}
	ms, err := strconv.ParseInt(string(opts[i+1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("Value for %s should be an integer", name)
	}
	return ms, i + 2, nil
}

func toUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// Apply stores the value and returns OK as a bulk string.
func (s Set) Apply(db *store.DB, _ *replication.Replication) resp.Value {
	if err := db.Set(s.key, s.value, s.expiresAt); err != nil {
		return resp.SimpleError(err.Error())
	}
	return resp.BulkString("OK")
}

// ReplicationFrame builds the SET frame broadcast to replicas. Expiry
// options are not forwarded.
func (s Set) ReplicationFrame() resp.Value {
	return resp.ArrayOf(
		resp.BulkString("SET"),
		resp.BulkString(s.key),
		resp.BulkString(s.value),
	)
}
