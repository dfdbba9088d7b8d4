// Package run contains the command to run the sync daemon.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authzed/grpcutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/relationsync/relationsync/internal/reconciler"
	"github.com/relationsync/relationsync/internal/syncer"
	"github.com/relationsync/relationsync/internal/translate"
	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/logger"
	"github.com/relationsync/relationsync/pkg/relations"
	"github.com/relationsync/relationsync/pkg/storage"
	"github.com/relationsync/relationsync/pkg/storage/memory"
	"github.com/relationsync/relationsync/pkg/storage/postgres"
	"github.com/relationsync/relationsync/pkg/storage/sqlcommon"
	"github.com/relationsync/relationsync/pkg/storage/sqlite"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relationsync daemon",
		Long:  "Run the relationsync daemon.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := DefaultConfig()
	flags := cmd.Flags()

	flags.String("state-file", defaultConfig.StateFile, "a JSON snapshot of relational RBAC state to seed the embedded state reader with")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine the sync records are persisted in")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.MetricsEnabled, "enable/disable sql metrics")

	flags.String("store-engine", defaultConfig.Store.Engine, "the relationship store client to use, 'grpc' or 'memory'")

	flags.String("store-addr", defaultConfig.Store.Addr, "the host:port address of the relationship store's gRPC endpoint")

	flags.String("store-token", defaultConfig.Store.Token, "a preshared key sent to the relationship store as a bearer token")

	flags.Duration("store-call-timeout", defaultConfig.Store.CallTimeout, "the timeout for each relationship store RPC")

	flags.Int("sync-max-concurrent", defaultConfig.Sync.MaxConcurrent, "the maximum number of domain objects syncing concurrently")

	flags.Int("sync-max-tuples-per-write", defaultConfig.Sync.MaxTuplesPerWrite, "the maximum allowed number of tuples per write to the relationship store")

	flags.Uint64("sync-max-retries", defaultConfig.Sync.MaxRetries, "the maximum number of retries per batch on transient store failures")

	flags.Duration("reconcile-interval", defaultConfig.Reconcile.Interval, "the period between drift reconciliation sweeps (0 disables periodic sweeps)")

	flags.Int("reconcile-parallelism", defaultConfig.Reconcile.Parallelism, "the maximum number of objects reconciled concurrently per sweep")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	flags.String("admin-addr", defaultConfig.Admin.Addr, "the host:port address to serve the admin HTTP server on")

	// NOTE: if you add a new flag here, update bindRunFlags too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

func ReadConfig() (*Config, error) {
	config := DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load daemon config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal daemon config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	log := logger.MustNewLogger(config.Log.Format, config.Log.Level)
	service := &ServiceContext{Logger: log}
	if err := service.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

type ServiceContext struct {
	Logger logger.Logger
}

func (s *ServiceContext) recordStore(config *Config) (storage.RecordStore, error) {
	var opts []sqlcommon.Option
	opts = append(opts, sqlcommon.WithLogger(s.Logger))
	if config.Datastore.MetricsEnabled {
		opts = append(opts, sqlcommon.WithMetrics("sync_records"))
	}

	switch config.Datastore.Engine {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(config.Datastore.URI, opts...)
	case "postgres":
		return postgres.New(config.Datastore.URI, opts...)
	default:
		return nil, fmt.Errorf("unsupported datastore engine type: %s", config.Datastore.Engine)
	}
}

func (s *ServiceContext) relationsClient(config *Config) (relations.Client, error) {
	switch config.Store.Engine {
	case "memory":
		return relations.NewMemory(), nil
	case "grpc":
		dialOpts := []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
		if config.Store.Token != "" {
			dialOpts = append(dialOpts, grpcutil.WithInsecureBearerToken(config.Store.Token))
		}
		conn, err := grpc.NewClient(config.Store.Addr, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the relationship store: %w", err)
		}
		return relations.NewGRPCClient(conn, relations.WithCallTimeout(config.Store.CallTimeout)), nil
	default:
		return nil, fmt.Errorf("unsupported relationship store engine type: %s", config.Store.Engine)
	}
}

// Run wires the state reader, record store, relationship store client,
// engine and reconciler together and serves them until a signal arrives.
func (s *ServiceContext) Run(ctx context.Context, config *Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reader *domain.StaticReader
	if config.StateFile != "" {
		var err error
		reader, err = domain.LoadSnapshot(config.StateFile)
		if err != nil {
			return err
		}
		s.Logger.Info("loaded relational state snapshot", zap.String("path", config.StateFile))
	} else {
		reader = domain.NewStaticReader()
	}

	records, err := s.recordStore(config)
	if err != nil {
		return err
	}
	defer records.Close()

	client, err := s.relationsClient(config)
	if err != nil {
		return err
	}

	executor := syncer.NewExecutor(client,
		syncer.WithExecutorLogger(s.Logger),
		syncer.WithMaxTuplesPerWrite(config.Sync.MaxTuplesPerWrite),
		syncer.WithMaxRetries(config.Sync.MaxRetries),
	)
	engine := syncer.NewEngine(reader, records, client, executor,
		syncer.WithLogger(s.Logger),
		syncer.WithMaxConcurrentSyncs(config.Sync.MaxConcurrent),
	)
	defer engine.Close()

	rec := reconciler.New(reader, records, engine,
		reconciler.WithLogger(s.Logger),
		reconciler.WithInterval(config.Reconcile.Interval),
		reconciler.WithParallelism(config.Reconcile.Parallelism),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rec.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	adminSrv := &http.Server{
		Addr:    config.Admin.Addr,
		Handler: s.adminHandler(reader, engine, rec),
	}
	g.Go(func() error { return serveHTTP(ctx, adminSrv) })
	s.Logger.Info("admin server listening", zap.String("addr", config.Admin.Addr))

	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: config.Metrics.Addr, Handler: mux}
		g.Go(func() error { return serveHTTP(ctx, metricsSrv) })
		s.Logger.Info("metrics server listening", zap.String("addr", config.Metrics.Addr))
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s.Logger.Info("daemon stopped")
	return nil
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// adminHandler exposes the operational surface: change notifications for
// domain objects, forced reconciliation, and a health probe.
func (s *ServiceContext) adminHandler(reader *domain.StaticReader, engine *syncer.Engine, rec *reconciler.Reconciler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Notify the engine that a domain object changed. The sync runs in the
	// background; drift left by a failure is picked up by the next sweep.
	mux.HandleFunc("POST /v1/changed/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ref, err := domain.ParseRef(r.PathValue("type") + ":" + r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		engine.OnDomainObjectChanged(ref)
		w.WriteHeader(http.StatusAccepted)
	})

	// Synchronously sync one domain object and report the outcome.
	mux.HandleFunc("POST /v1/sync/{type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ref, err := domain.ParseRef(r.PathValue("type") + ":" + r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := engine.SyncNow(r.Context(), ref); err != nil {
			status := http.StatusBadGateway
			if translate.IsIncompleteState(err) || syncer.IsRejected(err) {
				status = http.StatusUnprocessableEntity
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Upsert or delete relational state in the embedded reader. The matching
	// sync is queued right away.
	mux.HandleFunc("PUT /v1/state/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		var state domain.GroupState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state.ID = r.PathValue("id")
		reader.SetGroup(&state)
		engine.OnDomainObjectChanged(domain.GroupRef(state.ID))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /v1/state/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		reader.DeleteGroup(r.PathValue("id"))
		engine.OnDomainObjectChanged(domain.GroupRef(r.PathValue("id")))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("PUT /v1/state/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		var state domain.RoleState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state.ID = r.PathValue("id")
		reader.SetRole(&state)
		engine.OnDomainObjectChanged(domain.RoleRef(state.ID))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /v1/state/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		reader.DeleteRole(r.PathValue("id"))
		engine.OnDomainObjectChanged(domain.RoleRef(r.PathValue("id")))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("PUT /v1/state/workspaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		var state domain.WorkspaceState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state.ID = r.PathValue("id")
		reader.SetWorkspace(&state)
		engine.OnDomainObjectChanged(domain.WorkspaceRef(state.ID))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /v1/state/workspaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		reader.DeleteWorkspace(r.PathValue("id"))
		engine.OnDomainObjectChanged(domain.WorkspaceRef(r.PathValue("id")))
		w.WriteHeader(http.StatusAccepted)
	})

	// Force a full reconciliation sweep and report its result.
	mux.HandleFunc("POST /v1/reconcile", func(w http.ResponseWriter, r *http.Request) {
		result, err := rec.ForceSweep(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"scanned": result.Scanned,
			"drifted": result.Drifted,
			"failed":  result.Failed,
		})
	})

	return mux
}
