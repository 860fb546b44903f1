// Command coordinator runs one replication coordinator node: the
// outbound dispatcher, the inbound executor registry, the recovery
// coordinator's undo replay and resync timer, membership probing, and
// the admin HTTP surface, wired together from internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kurahashiryo/orientdb/internal/chaos"
	"github.com/kurahashiryo/orientdb/internal/config"
	"github.com/kurahashiryo/orientdb/internal/dispatch"
	"github.com/kurahashiryo/orientdb/internal/executor"
	"github.com/kurahashiryo/orientdb/internal/membership"
	"github.com/kurahashiryo/orientdb/internal/recovery"
	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/internal/adminhttp"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/boltmap"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/memcluster"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/natscluster"
	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/localdb/memdb"
	"github.com/kurahashiryo/orientdb/pkg/localdb/sqlitedb"
	"github.com/kurahashiryo/orientdb/pkg/logging"
	"github.com/kurahashiryo/orientdb/pkg/partition"
	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Per-database distributed replication coordinator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(runCmd(), resyncNowCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var database, dbPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the coordinator node and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			node, err := bootstrap(cfg)
			if err != nil {
				return err
			}
			defer node.Close()

			db, err := openLocalDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			coord := recovery.New(cfg.Node, database, node.registry, node.dispatcher, node.resolver, node.prims, node.codec, node.logger, cfg.ResyncEvery)
			if err := coord.ConfigureDatabase(ctx, db, true, false); err != nil {
				return fmt.Errorf("configure database %s: %w", database, err)
			}
			coord.StartResync(ctx)
			defer coord.Stop()

			node.prober.Start(ctx)
			defer node.prober.Stop()

			go func() {
				if err := node.admin.Run(cfg.AdminHTTPAddr); err != nil {
					node.logger.Error("admin http server exited", zap.Error(err))
				}
			}()

			node.logger.Info("coordinator running", zap.String("node", cfg.Node), zap.String("database", database))
			<-ctx.Done()
			node.logger.Info("coordinator shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "default", "database name this node replicates")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite file path; empty uses the in-memory store")
	return cmd
}

func resyncNowCmd() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "resync-now",
		Short: "Dispatch a single anti-entropy resync round and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			node, err := bootstrap(cfg)
			if err != nil {
				return err
			}
			defer node.Close()

			req := &request.Request{
				ID:   fmt.Sprintf("resync-now-%s", database),
				Mode: request.ModeResponse,
				Task: task.NewResyncTask(),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := node.dispatcher.Send(ctx, req, database, "")
			if err != nil {
				return fmt.Errorf("resync dispatch: %w", err)
			}
			fmt.Printf("resync result: %v\n", result)
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "default", "database to resync")
	return cmd
}

func statusCmd() *cobra.Command {
	var database, shard string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the resolved partition config for a database/shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			dbs, err := loadPartitionFile(cfg.PartitionConfigPath)
			if err != nil {
				return err
			}
			resolver := partition.NewStaticResolver(dbs)
			shardCfg, err := resolver.Config(database, shard)
			if err != nil {
				return err
			}
			fmt.Printf("nodes=%v readQuorum=%d writeQuorum=%d strategy=%s\n",
				shardCfg.Nodes, shardCfg.ReadQuorum, shardCfg.WriteQuorum, shardCfg.Strategy)
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "default", "database name")
	cmd.Flags().StringVar(&shard, "shard", "", "shard name, empty for the default shard")
	return cmd
}

// node bundles every long-lived component one running coordinator
// process owns, so run/resync-now/status can share the same wiring
// logic without repeating it.
type node struct {
	logger     *logging.Logger
	prims      clusterprim.Primitives
	resolver   *partition.StaticResolver
	codec      *wire.Codec
	svc        *dispatch.Service
	dispatcher *dispatch.Dispatcher
	registry   *executor.Registry
	prober     *membership.Prober
	admin      *adminhttp.Server

	closers []func() error
}

func (n *node) Close() {
	if n.registry != nil {
		n.registry.CloseAll()
	}
	if n.svc != nil {
		n.svc.Close()
	}
	for _, c := range n.closers {
		_ = c()
	}
	if n.logger != nil {
		n.logger.Close()
	}
}

func bootstrap(cfg config.Config) (*node, error) {
	logger, err := logging.GetLogger(logging.LogConfig{
		ServiceName: cfg.Node,
		LogLevel:    cfg.LogLevel,
		OutputPaths: []string{"stdout"},
		Development: cfg.LogDevelopment,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	n := &node{logger: logger}

	n.prober = membership.New(cfg.Node, cfg.ProbeInterval, logger)
	for peerID, baseURL := range cfg.Cluster.Peers {
		n.prober.AddPeer(peerID, baseURL)
	}

	prims, closer, err := openCluster(cfg.Cluster, cfg.Node, n.prober)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		n.closers = append(n.closers, closer)
	}
	if cfg.Chaos.Enabled {
		prims = chaos.WrapPrimitives(prims, chaos.Profile{
			Latency:    cfg.Chaos.Latency,
			OfferDrop:  cfg.Chaos.OfferDrop,
			TakeDrop:   cfg.Chaos.TakeDrop,
			Corruption: cfg.Chaos.Corruption,
		})
	}
	n.prims = prims

	dbs, err := loadPartitionFile(cfg.PartitionConfigPath)
	if err != nil {
		return nil, err
	}
	n.resolver = partition.NewStaticResolver(dbs)

	registry := wire.NewRegistry()
	registry.Register(task.ConfigureDatabaseTypeTag, func() request.Task { return task.NewConfigureDatabaseTask() })
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	n.codec = wire.NewCodec(registry)

	svc, err := dispatch.NewService(cfg.Node, prims, n.codec, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: %w", err)
	}
	n.svc = svc

	n.dispatcher = dispatch.New(cfg.Node, n.resolver, n.prober, prims, n.codec, svc, logger, cfg.OfferTimeout, cfg.LockTimeout)
	n.registry = executor.NewRegistry(cfg.Node, prims, n.codec, logger, cfg.OfferTimeout)

	n.admin = adminhttp.New(cfg.Node, n.resolver, n.prober)

	return n, nil
}

// openCluster builds the clusterprim.Primitives for cc. natscluster
// only implements Queue and boltmap only implements Map/Lock, so the
// nats and bolt backends compose with memcluster for the half they
// don't provide; prober (already populated with cc.Peers) supplies
// Membership for every backend uniformly, so IsAlive reflects real
// probed liveness rather than the mem backend's in-process stub once
// peers are configured.
func openCluster(cc config.ClusterConfig, localNode string, prober *membership.Prober) (clusterprim.Primitives, func() error, error) {
	switch cc.Backend {
	case "", "mem":
		return mixedPrimitives{queueSrc: memcluster.New(localNode), mapLockSrc: memcluster.New(localNode), membership: prober}, nil, nil
	case "nats":
		tr, err := natscluster.Connect(cc.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("nats cluster: %w", err)
		}
		return mixedPrimitives{queueSrc: tr, mapLockSrc: memcluster.New(localNode), membership: prober}, tr.Close, nil
	case "bolt":
		store, err := boltmap.Open(cc.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("bolt cluster: %w", err)
		}
		return mixedPrimitives{queueSrc: memcluster.New(localNode), mapLockSrc: store, membership: prober}, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown cluster backend %q", cc.Backend)
	}
}

type queueSource interface {
	Queue(name string) (clusterprim.Queue, error)
}

type mapLockSource interface {
	Map(name string) (clusterprim.Map, error)
	Lock(name string) (clusterprim.Mutex, error)
}

type mixedPrimitives struct {
	queueSrc   queueSource
	mapLockSrc mapLockSource
	membership clusterprim.Membership
}

func (m mixedPrimitives) Queue(name string) (clusterprim.Queue, error) { return m.queueSrc.Queue(name) }
func (m mixedPrimitives) Map(name string) (clusterprim.Map, error)     { return m.mapLockSrc.Map(name) }
func (m mixedPrimitives) Lock(name string) (clusterprim.Mutex, error)  { return m.mapLockSrc.Lock(name) }
func (m mixedPrimitives) Membership() clusterprim.Membership           { return m.membership }

func openLocalDB(path string) (localdb.DB, error) {
	if path == "" {
		return memdb.New(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && filepath.Dir(path) != "." {
		return nil, fmt.Errorf("local db dir: %w", err)
	}
	return sqlitedb.Open(path)
}

func loadPartitionFile(path string) (map[string]partition.Database, error) {
	if path == "" {
		return map[string]partition.Database{
			"default": {Shards: map[string]partition.Config{
				"": {Nodes: []string{"node-1"}, ReadQuorum: 1, WriteQuorum: 1},
			}},
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("partition config: %w", err)
	}
	var dbs map[string]partition.Database
	if err := yaml.Unmarshal(data, &dbs); err != nil {
		return nil, fmt.Errorf("partition config: %w", err)
	}
	return dbs, nil
}
