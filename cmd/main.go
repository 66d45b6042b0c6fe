package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bibflow/holdingpen-backend/internal/catalog"
	"github.com/bibflow/holdingpen-backend/internal/clients/literature"
	redisclient "github.com/bibflow/holdingpen-backend/internal/clients/redis"
	"github.com/bibflow/holdingpen-backend/internal/clients/robotupload"
	"github.com/bibflow/holdingpen-backend/internal/clients/rt"
	"github.com/bibflow/holdingpen-backend/internal/data/db"
	catalogrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/catalog"
	workflowrepos "github.com/bibflow/holdingpen-backend/internal/data/repos/workflows"
	httpx "github.com/bibflow/holdingpen-backend/internal/http"
	httpH "github.com/bibflow/holdingpen-backend/internal/http/handlers"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/platform/envutil"
	"github.com/bibflow/holdingpen-backend/internal/resolution"
	"github.com/bibflow/holdingpen-backend/internal/services"
	"github.com/bibflow/holdingpen-backend/internal/temporalx"
	"github.com/bibflow/holdingpen-backend/internal/temporalx/temporalworker"
	"github.com/bibflow/holdingpen-backend/internal/temporalx/wfrun"
	"github.com/bibflow/holdingpen-backend/internal/workflows"
	"github.com/bibflow/holdingpen-backend/internal/workflows/steps"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	gdb := pg.DB()

	// Repos
	runRepo := workflowrepos.NewWorkflowRunRepo(gdb, log)
	pendingRepo := workflowrepos.NewPendingRecordRepo(gdb, log)
	entityRepo := catalogrepos.NewCanonicalEntityRepo(gdb, log)

	// Canonical entity catalog (one in-memory snapshot per process)
	catalogSvc, err := catalog.LoadService(ctx, entityRepo, log)
	if err != nil {
		log.Fatal("Catalog load failed", "error", err)
	}

	// Redis event bus (optional)
	var bus redisclient.EventBus
	if envutil.String("REDIS_ADDR", "") != "" {
		bus, err = redisclient.NewEventBus(log)
		if err != nil {
			log.Warn("Redis event bus init failed; events disabled", "error", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	} else {
		log.Warn("REDIS_ADDR not set; workflow events disabled")
	}
	notifier := services.NewWorkflowNotifier(bus, log)
	hub := services.NewEventHub(log)
	if bus != nil {
		if err := bus.StartForwarder(ctx, hub.Broadcast); err != nil {
			log.Warn("Event forwarder failed to start; live event stream disabled", "error", err)
		}
	}

	// Temporal (optional)
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Fatal("Temporal init failed", "error", err)
	}
	var signaler services.RunSignaler
	if tc != nil {
		defer tc.Close()
		signaler = wfrun.NewStarter(tc, log)
	}

	// Services
	registry := services.NewRegistry(runRepo, pendingRepo, notifier, signaler, log)
	flags := services.NewFlags()
	hidden, err := services.LoadHiddenCollections(envutil.String("HIDDEN_COLLECTIONS_CONFIG", "configs/hidden_collections.yaml"), log)
	if err != nil {
		log.Warn("Hidden collections config missing; all records stay public", "error", err)
		hidden = services.NewHiddenCollections(nil, log)
	}

	// Outbound clients
	tickets := rt.NewClient(rt.Config{
		BaseURL: envutil.String("RT_BASE_URL", "http://localhost:8090"),
		Token:   envutil.String("RT_TOKEN", ""),
	}, log)
	legacy := robotupload.NewClient(robotupload.Config{
		BaseURL: envutil.String("LEGACY_BASE_URL", "http://localhost:8091"),
	}, log)
	var litSource resolution.LiteratureAuthorSource
	if base := envutil.String("LITERATURE_BASE_URL", ""); base != "" {
		litSource = literature.NewClient(literature.Config{BaseURL: base}, log)
	} else {
		log.Warn("LITERATURE_BASE_URL not set; affiliation identity transfer disabled")
	}

	// Workflow engine
	env := &steps.Env{
		Log:        log,
		Catalog:    catalogSvc,
		Literature: litSource,
		Tickets:    tickets,
		Legacy:     legacy,
		Registry:   registry,
		Flags:      flags,
		Hidden:     hidden,
		ServerBase: envutil.String("SERVER_BASE_URL", "http://localhost:8080"),
	}
	pipelines := workflows.BuildPipelines(env, log)
	executor := workflows.NewExecutor(gdb, log, runRepo, notifier, pipelines)

	// Execution driver: Temporal when configured, otherwise the
	// database claim loop. Never both, or runs would race.
	if tc != nil {
		runner, err := temporalworker.NewRunner(log, tc, gdb, runRepo, executor)
		if err != nil {
			log.Fatal("Temporal worker init failed", "error", err)
		}
		if err := runner.Start(ctx); err != nil {
			log.Fatal("Temporal worker start failed", "error", err)
		}
	} else {
		workflows.NewWorker(log, runRepo, executor).Start(ctx)
	}

	// HTTP
	router := httpx.NewRouter(httpx.RouterConfig{
		WorkflowHandler: httpH.NewWorkflowHandler(registry, runRepo, log),
		CallbackHandler: httpH.NewCallbackHandler(registry, runRepo, log),
		EventsHandler:   httpH.NewEventsHandler(hub, log),
		HealthHandler:   httpH.NewHealthHandler(gdb),
	})
	srv := &http.Server{
		Addr:    ":" + envutil.String("PORT", "8080"),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
