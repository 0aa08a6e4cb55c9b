package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/dheerajgopi/nimblecache"
	"github.com/dheerajgopi/nimblecache/pkg/command"
	"github.com/dheerajgopi/nimblecache/pkg/logger"
	"github.com/dheerajgopi/nimblecache/pkg/replication"
	"github.com/dheerajgopi/nimblecache/pkg/resp"
	"github.com/dheerajgopi/nimblecache/pkg/store"
)

// workerPoolSize caps the shared pool used for admission waits, replication
// peer writers and the evictor's event listener.
const workerPoolSize = 128

func main() {
	var (
		port       int
		replicaOf  string
		maxClients int64
		multicore  bool
		logLevel   string
		logFile    string
	)

	flag.IntVar(&port, "port", 6379, "listen port")
	flag.StringVar(&replicaOf, "replicaof", "master", `server role: "master" or "<host> <port>"`)
	flag.Int64Var(&maxClients, "maxclients", nimblecache.DefaultMaxClients, "max concurrently connected clients")
	flag.BoolVar(&multicore, "multicore", true, "enable multicore support")
	flag.StringVar(&logLevel, "loglevel", "info", "log level (debug|info|warn|error)")
	flag.StringVar(&logFile, "logfile", "", "log to a rotated file instead of stderr")
	flag.Parse()

	log := logger.New(logger.Config{Level: logLevel, File: logFile})
	defer log.Sync()

	masterHost, masterPort, err := parseReplicaOf(replicaOf)
	if err != nil {
		log.Fatal("invalid --replicaof value", zap.String("replicaof", replicaOf), zap.Error(err))
	}

	pool, err := ants.NewPool(workerPoolSize)
	if err != nil {
		log.Fatal("failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	db := store.New(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evictor := store.NewEvictor(db, log)
	go evictor.Run(ctx, pool)

	var repl *replication.Replication
	if masterHost == "" {
		repl = replication.NewMaster(pool, log)
	} else {
		repl = replication.NewSlave(masterHost, masterPort, pool, log)
	}

	if repl.IsSlave() {
		conn, err := replication.Handshake(repl.MasterAddr(), log)
		if err != nil {
			log.Fatal("replication handshake failed", zap.Error(err))
		}
		go func() {
			defer conn.Close()
			err := replication.RunReplicaStream(ctx, conn, replicaApply(db, repl, log), log)
			if err != nil && ctx.Err() == nil {
				log.Error("replication stream ended", zap.Error(err))
			}
		}()
	}

	srv := nimblecache.NewServer(nimblecache.Options{
		Addr:       fmt.Sprintf("tcp://127.0.0.1:%d", port),
		MaxClients: maxClients,
		Multicore:  multicore,
	}, db, repl, pool, log)

	log.Info("starting nimblecache server",
		zap.Int("port", port),
		zap.Bool("slave", repl.IsSlave()),
		zap.Int64("maxclients", maxClients))

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

// replicaApply executes a command replayed from the master's replication
// stream. No reply is produced; writes are re-broadcast to this server's own
// peers so chained replicas stay current.
func replicaApply(db *store.DB, repl *replication.Replication, log *zap.Logger) func(resp.Command) {
	return func(cmd resp.Command) {
		parsed, err := command.Parse(cmd.Args)
		if err != nil {
			log.Warn("skipping command from replication stream", zap.Error(err))
			return
		}
		reply := parsed.Apply(db, repl)
		if wr, ok := parsed.(command.Replicable); ok && reply.Type != resp.Error {
			repl.Broadcast(wr.ReplicationFrame().Bytes())
		}
	}
}

// parseReplicaOf resolves the --replicaof flag: the literal "master" keeps
// the server a master, anything else must be a "<host> <port>" pair.
func parseReplicaOf(v string) (string, uint16, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "master") {
		return "", 0, nil
	}
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf(`expected "master" or "<host> <port>"`)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid master port %q", parts[1])
	}
	return parts[0], uint16(port), nil
}
