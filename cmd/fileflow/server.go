package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/fileflow/pkg/cmd"
	"github.com/dukex/fileflow/pkg/eventbus"
	"github.com/dukex/fileflow/pkg/extract"
	"github.com/dukex/fileflow/pkg/otelhelper"
	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/scheduler"
	"github.com/dukex/fileflow/pkg/services"
	"github.com/dukex/fileflow/pkg/steps"
	"github.com/dukex/fileflow/pkg/web"
	"github.com/dukex/fileflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 30 * time.Second

type ServerConfig struct {
	DatabaseURL      string
	EventBus         string
	KafkaBrokers     string
	RedisURL         string
	RedisQueue       string
	FilesPath        string
	AirtableURL      string
	AirtableAPIKey   string
	AirtableBaseID   string
	ExecutionTimeout time.Duration
	CallTimeout      time.Duration
	Tracing          bool
	Scheduler        scheduler.Config
}

// Server owns every long-lived component of the process.
type Server struct {
	logger         *slog.Logger
	persistence    persistence.Persistence
	eventBus       eventbus.EventBus
	scheduler      *scheduler.Scheduler
	handlers       *web.APIHandlers
	shutdownTracer otelhelper.ShutdownFunc
}

func NewServer(ctx context.Context, config ServerConfig, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger}

	if err := s.init(ctx, config); err != nil {
		if closeErr := s.Close(ctx); closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release resources", "error", closeErr)
		}

		return nil, err
	}

	return s, nil
}

func (s *Server) init(ctx context.Context, config ServerConfig) error {
	var err error

	s.persistence, err = cmd.NewPersistence(ctx, s.logger, config.DatabaseURL)
	if err != nil {
		return err
	}

	s.eventBus, err = cmd.NewEventBus(config.EventBus, config.KafkaBrokers, s.logger)
	if err != nil {
		return err
	}

	tracer := otelhelper.NoopTracer()

	if config.Tracing {
		tracer, s.shutdownTracer, err = otelhelper.NewTracer(ctx, "fileflow")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	interpreter := steps.NewInterpreter(
		cmd.NewRecordStore(config.AirtableURL, config.AirtableAPIKey, config.AirtableBaseID, config.CallTimeout, s.logger),
		extract.NewDirectoryExtractor(config.FilesPath, s.logger),
		s.logger,
		steps.WithCallTimeout(config.CallTimeout),
	)

	runnerOpts := []workflow.RunnerOption{
		workflow.WithTracer(tracer),
		workflow.WithExecutionTimeout(config.ExecutionTimeout),
	}
	if s.eventBus != nil {
		runnerOpts = append(runnerOpts, workflow.WithPublisher(s.eventBus))
	}

	runner := workflow.NewRunner(s.persistence.ExecutionRepository(), interpreter, s.logger, runnerOpts...)

	sources, err := cmd.NewFileEventSources(ctx, s.eventBus, config.RedisURL, config.RedisQueue, s.logger)
	if err != nil {
		return err
	}

	s.scheduler = scheduler.New(s.persistence, runner, sources, config.Scheduler, s.logger)

	workflowService := services.NewWorkflow(s.persistence, s.scheduler, s.logger)
	executionService := services.NewExecution(s.persistence, workflowService, s.scheduler, s.logger)

	s.handlers = web.NewAPIHandlers(
		workflowService,
		executionService,
		validator.New(validator.WithRequiredStructEnabled()),
		s.scheduler,
	)

	return nil
}

func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("fileflow API")
	})

	web.RegisterRoutes(app, s.handlers)

	return app
}

// Run starts the scheduler and serves HTTP until ctx ends or a termination signal
// arrives. In-flight executions are recorded as cancelled on the way out.
func (s *Server) Run(ctx context.Context, port int) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	app := s.App()

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	s.logger.InfoContext(ctx, "fileflow started", "port", port)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error

	select {
	case <-ctx.Done():
	case sig := <-signals:
		s.logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
	case err := <-listenErr:
		runErr = fmt.Errorf("http server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		s.logger.ErrorContext(shutdownCtx, "Failed to stop http server", "error", err)
	}

	return errors.Join(runErr, s.Close(shutdownCtx))
}

// Close stops the scheduler and releases every component that was opened.
func (s *Server) Close(ctx context.Context) error {
	var errs []error

	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Stop(ctx))
	}

	if s.eventBus != nil {
		errs = append(errs, s.eventBus.Close())
	}

	if s.persistence != nil {
		errs = append(errs, s.persistence.Close(ctx))
	}

	if s.shutdownTracer != nil {
		errs = append(errs, s.shutdownTracer(ctx))
	}

	return errors.Join(errs...)
}
