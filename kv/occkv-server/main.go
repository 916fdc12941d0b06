package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/occkv/occkv/kv/config"
	"github.com/occkv/occkv/kv/rpc"
	"github.com/occkv/occkv/kv/server"
	"github.com/occkv/occkv/kv/storage"
	"github.com/occkv/occkv/kv/transaction"
	"github.com/occkv/occkv/kv/wal"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

var (
	configPath = flag.String("config", "", "config file path")
	storeAddr  = flag.String("addr", "", "store address")
	statusAddr = flag.String("status", "", "status address")
	shardID    = flag.Int("shard", -1, "shard id")
)

const (
	grpcInitialWindowSize     = 1 << 30
	grpcInitialConnWindowSize = 1 << 30
)

func main() {
	flag.Parse()
	conf, err := loadConfig()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if err := conf.InitLogger(); err != nil {
		log.Fatal("init logger", zap.Error(err))
	}
	log.Info("conf", zap.Reflect("config", conf))

	catalog, err := buildCatalog(conf)
	if err != nil {
		log.Fatal("create tables", zap.Error(err))
	}
	logService, closeLog, err := openLog(conf)
	if err != nil {
		log.Fatal("open wal", zap.Error(err))
	}
	mgr := transaction.NewManager(conf, catalog, logService)
	mgr.Run()

	var alivePolicy = keepalive.EnforcementPolicy{
		MinTime:             2 * time.Second, // If a client pings more than once every 2 seconds, terminate the connection
		PermitWithoutStream: true,            // Allow pings even when there are no active streams
	}
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(alivePolicy),
		grpc.InitialWindowSize(grpcInitialWindowSize),
		grpc.InitialConnWindowSize(grpcInitialConnWindowSize),
		grpc.MaxRecvMsgSize(10*1024*1024),
	)
	rpc.RegisterShardServer(grpcServer, server.NewServer(conf, catalog, mgr))
	listenAddr := conf.StoreAddr
	if i := strings.IndexByte(listenAddr, ':'); i >= 0 {
		listenAddr = listenAddr[i:]
	}
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal("listen", zap.String("addr", listenAddr), zap.Error(err))
	}
	statusServer := &http.Server{Addr: conf.StatusAddr, Handler: statusHandler(conf, mgr)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving shard", zap.Int("shard", conf.ShardID), zap.String("addr", conf.StoreAddr))
		return grpcServer.Serve(l)
	})
	g.Go(func() error {
		log.Info("listening on status address", zap.String("addr", conf.StatusAddr))
		if err := statusServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("stopping server")
		grpcServer.GracefulStop()
		return statusServer.Close()
	})
	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
	}

	mgr.Terminate()
	catalog.Dispose()
	if err := closeLog(); err != nil {
		log.Error("close wal", zap.Error(err))
	}
	log.Info("Server stopped.")
}

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if *configPath != "" {
		var err error
		if conf, err = config.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if *storeAddr != "" {
		conf.StoreAddr = *storeAddr
	}
	if *statusAddr != "" {
		conf.StatusAddr = *statusAddr
	}
	if *shardID >= 0 {
		conf.ShardID = *shardID
	}
	return conf, conf.Validate()
}

// buildCatalog creates the tables declared in conf.
func buildCatalog(conf *config.Config) (*storage.Catalog, error) {
	catalog := storage.NewCatalog()
	for _, tc := range conf.Tables {
		tbl, err := storage.NewTable(tc.ID, tc.Schema())
		if err != nil {
			return nil, err
		}
		if err := catalog.Register(tbl); err != nil {
			return nil, err
		}
		log.Info("table created", zap.Int32("table", tc.ID), zap.Int("row-size", tbl.RowSize()))
	}
	return catalog, nil
}

// openLog opens the file log when conf names one. The returned close function is never nil.
func openLog(conf *config.Config) (wal.LogService, func() error, error) {
	if conf.WALPath == "" {
		return nil, func() error { return nil }, nil
	}
	l, err := wal.Open(conf.WALPath, wal.Options{Sync: conf.WALSync, Compress: conf.WALCompress, Reset: conf.WALReset})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return l, l.Close, nil
}

type status struct {
	ShardID   int     `json:"shard_id"`
	Tables    []int32 `json:"tables"`
	Committed int64   `json:"committed"`
	Pid       int     `json:"pid"`
}

func statusHandler(conf *config.Config, mgr *transaction.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status{
			ShardID:   conf.ShardID,
			Tables:    tableIDs(conf),
			Committed: mgr.Committed(),
			Pid:       os.Getpid(),
		})
	})
	return mux
}

func tableIDs(conf *config.Config) []int32 {
	ids := make([]int32, len(conf.Tables))
	for i, t := range conf.Tables {
		ids[i] = t.ID
	}
	return ids
}
