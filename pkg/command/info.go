package command

import (
	"fmt"
	"strings"

	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// infoSection is a section selector for the INFO command.
type infoSection int

const (
	sectionReplication infoSection = iota
)

var allInfoSections = []infoSection{sectionReplication}

// Info reports server sections. An empty argument list selects all sections.
type Info struct {
	sections []infoSection
}

func parseInfo(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return Info{sections: allInfoSections}, nil
	}
	sections := make([]infoSection, 0, len(args))
	for _, arg := range args {
		// Section names are matched lowercased for client compatibility.
		switch strings.ToLower(string(arg)) {
		case "replication":
			sections = append(sections, sectionReplication)
		default:
			return nil, fmt.Errorf("Invalid argument for INFO command")
		}
	}
	return Info{sections: sections}, nil
}

// Apply renders the selected sections as a bulk string.
func (i Info) Apply(_ *store.DB, repl *replication.Replication) resp.Value {
	var b strings.Builder
	for _, s := range i.sections {
		switch s {
		case sectionReplication:
			fmt.Fprintf(&b, "# Replication\n%s\n", repl.InfoStr())
		}
	}
	return resp.BulkString(b.String())
}
