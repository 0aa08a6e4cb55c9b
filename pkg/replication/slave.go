package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/dheerajgopi/nimblecache/pkg/resp"
)

// handshakeBufCap sizes the handshake read buffer; master replies during the
// handshake are single small values.
const handshakeBufCap = 8 * 1024

// Handshake dials the master and runs the replication handshake on the new
// connection:
//
//  1. send PING, expect the simple string PONG
//  2. send PSYNC ? -1, expect a reply whose text begins with FULLRESYNC
//
// Any deviation is fatal. On success the same TCP stream is returned for the
// caller to switch into the replication-stream reader.
func Handshake(addr string, log *zap.Logger) (net.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("replication")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master at %s: %w", addr, err)
	}

	if err := pingMaster(conn); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info("successfully PINGed master server")

	if err := psyncMaster(conn); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info("successfully PSYNCed master server")

	return conn, nil
}

func pingMaster(conn net.Conn) error {
	ping := resp.ArrayOf(resp.BulkString("PING"))
	if _, err := conn.Write(ping.Bytes()); err != nil {
		return fmt.Errorf("failed to send PING to master during handshake: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("no response for PING request to master during handshake: %w", err)
	}
	if reply.Type != resp.String || reply.Str != "PONG" {
		return errors.New("invalid response for PING request to master during handshake")
	}
	return nil
}

func psyncMaster(conn net.Conn) error {
	psync := resp.ArrayOf(
		resp.BulkString("PSYNC"),
		resp.BulkString("?"),
		resp.BulkString("-1"),
	)
	if _, err := conn.Write(psync.Bytes()); err != nil {
		return fmt.Errorf("failed to send PSYNC to master during handshake: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("no response for PSYNC request to master during handshake: %w", err)
	}
	if reply.Type != resp.String && reply.Type != resp.Bulk {
		return errors.New("invalid response for PSYNC request to master during handshake")
	}
	if !strings.HasPrefix(reply.Str, "FULLRESYNC") {
		return errors.New("invalid response for PSYNC request to master during handshake")
	}
	return nil
}

// readReply reads one RESP value from the stream, retrying on partial reads.
func readReply(conn net.Conn) (resp.Value, error) {
	buf := make([]byte, 0, handshakeBufCap)
	chunk := make([]byte, handshakeBufCap)
	for {
		n, err := conn.Read(chunk)
		if err != nil {
			return resp.Value{}, err
		}
		buf = append(buf, chunk[:n]...)

		_, v, perr := resp.ReadValue(buf)
		if perr == resp.ErrIncomplete {
			continue
		}
		if perr != nil {
			return resp.Value{}, perr
		}
		return v, nil
	}
}

// RunReplicaStream reads write-command frames from the master's replication
// stream and hands each one to apply. No replies are written back. Malformed
// frames are logged and the buffered bytes dropped; the stream continues.
//
// The loop exits when the stream closes or ctx is cancelled.
func RunReplicaStream(ctx context.Context, conn net.Conn, apply func(resp.Command), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("replication")

	var buf []byte
	chunk := make([]byte, handshakeBufCap)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := conn.Read(chunk)
		if err != nil {
			return err
		}
		buf = append(buf, chunk[:n]...)

		cmds, leftover, perr := resp.ReadCommands(buf)
		for _, cmd := range cmds {
			apply(cmd)
		}
		if perr != nil {
			log.Warn("skipping malformed frame on replication stream", zap.Error(perr))
			buf = buf[:0]
			continue
		}
		if len(leftover) > 0 {
			buf = append(buf[:0], leftover...)
		} else {
			buf = buf[:0]
		}
	}
}
