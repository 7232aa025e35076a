package main

import (
	"context"
	"time"

	"github.com/dukex/fileflow/pkg/fileevents"
	"github.com/dukex/fileflow/pkg/log"
	"github.com/dukex/fileflow/pkg/recordstore"
	"github.com/dukex/fileflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func databaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Persistence URL (file://<dir> or postgres://...)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func NewRunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		databaseURLFlag(),
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel); empty disables it",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the file event queue; empty disables it",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-queue",
			Usage:   "Redis list holding file events",
			Value:   fileevents.DefaultQueue,
			Sources: cli.EnvVars("REDIS_FILE_EVENTS_QUEUE"),
		},
		&cli.StringFlag{
			Name:    "files-path",
			Usage:   "Directory holding uploaded files for extraction",
			Value:   "./data/files",
			Sources: cli.EnvVars("FILES_PATH"),
		},
		&cli.StringFlag{
			Name:    "airtable-api-key",
			Usage:   "Airtable API key",
			Sources: cli.EnvVars("AIRTABLE_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "airtable-base-id",
			Usage:   "Airtable base id",
			Sources: cli.EnvVars("AIRTABLE_BASE_ID"),
		},
		&cli.StringFlag{
			Name:    "airtable-url",
			Usage:   "Airtable API base URL",
			Value:   recordstore.DefaultAirtableURL,
			Sources: cli.EnvVars("AIRTABLE_API_URL"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent executions",
			Value:   scheduler.DefaultWorkers,
			Sources: cli.EnvVars("TASK_WORKER_COUNT"),
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "Executions waiting for a worker before new ones are rejected",
			Value:   scheduler.DefaultQueueSize,
			Sources: cli.EnvVars("TASK_QUEUE_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "execution-timeout",
			Usage:   "Maximum duration of one execution",
			Value:   time.Hour,
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "call-timeout",
			Usage:   "Timeout of one extraction or record store call",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("COLLABORATOR_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "liveness-timeout",
			Usage:   "Inactivity after which a running execution is failed",
			Value:   scheduler.DefaultLivenessTimeout,
			Sources: cli.EnvVars("LIVENESS_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-executions",
			Usage:   "Finished executions kept per workflow",
			Value:   scheduler.DefaultMaxExecutions,
			Sources: cli.EnvVars("MAX_WORKFLOW_EXECUTIONS"),
		},
		&cli.DurationFlag{
			Name:    "maintenance-interval",
			Usage:   "Interval between liveness and retention passes",
			Value:   scheduler.DefaultMaintenanceInterval,
			Sources: cli.EnvVars("MAINTENANCE_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export spans over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server and the scheduler",
		Flags:   append(flags, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("fileflow")

			logger.InfoContext(ctx, "Initializing fileflow")

			server, err := NewServer(ctx, ServerConfig{
				DatabaseURL:      command.String("database-url"),
				EventBus:         command.String("event-bus"),
				KafkaBrokers:     command.String("kafka-brokers"),
				RedisURL:         command.String("redis-url"),
				RedisQueue:       command.String("redis-queue"),
				FilesPath:        command.String("files-path"),
				AirtableURL:      command.String("airtable-url"),
				AirtableAPIKey:   command.String("airtable-api-key"),
				AirtableBaseID:   command.String("airtable-base-id"),
				ExecutionTimeout: command.Duration("execution-timeout"),
				CallTimeout:      command.Duration("call-timeout"),
				Tracing:          command.Bool("tracing"),
				Scheduler: scheduler.Config{
					Workers:             command.Int("workers"),
					QueueSize:           command.Int("queue-size"),
					LivenessTimeout:     command.Duration("liveness-timeout"),
					MaxExecutions:       command.Int("max-executions"),
					MaintenanceInterval: command.Duration("maintenance-interval"),
				},
			}, logger)
			if err != nil {
				return err
			}

			return server.Run(ctx, command.Int("port"))
		},
	}
}
