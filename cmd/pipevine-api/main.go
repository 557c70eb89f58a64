package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/pipevine/pipevine/pkg/adapter"
	"github.com/pipevine/pipevine/pkg/cmd"
	"github.com/pipevine/pipevine/pkg/engine"
	"github.com/pipevine/pipevine/pkg/executor"
	"github.com/pipevine/pipevine/pkg/log"
	"github.com/pipevine/pipevine/pkg/otelhelper"
	"github.com/pipevine/pipevine/pkg/poller"
	"github.com/pipevine/pipevine/pkg/progress"
	"github.com/pipevine/pipevine/pkg/services"
)

const defaultPort = 9094

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "pipevine-api",
		Usage:                 "Create and run data transformation workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or a directory path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "backend-url",
				Usage:    "Base URL of the task execution backend",
				Required: true,
				Sources:  cli.EnvVars("TASK_BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for progress tracking (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "execute-timeout",
				Usage:   "Timeout for a single task execution request",
				Value:   executor.DefaultTimeout,
				Sources: cli.EnvVars("EXECUTE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "progress-cadence",
				Usage:   "Cadence of simulated progress updates while a task runs",
				Value:   engine.DefaultProgressCadence,
				Sources: cli.EnvVars("PROGRESS_CADENCE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between workflow status polls",
				Value:   poller.DefaultInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for runs and backend calls",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Pipevine API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "pipevine", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var tracker progress.Tracker
			if redisURL := command.String("redis-url"); redisURL != "" {
				redisTracker, err := progress.NewRedisTracker(redisURL)
				if err != nil {
					return err
				}

				defer func() {
					if err := redisTracker.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis tracker", "error", err)
					}
				}()

				tracker = redisTracker
			} else {
				tracker = progress.NewMemoryTracker()
			}

			payloadValidator, err := adapter.NewValidator()
			if err != nil {
				return err
			}

			inputAdapter := adapter.New(logger, payloadValidator)

			executorOpts := []executor.Option{
				executor.WithTimeout(command.Duration("execute-timeout")),
			}
			runnerOpts := []engine.Option{
				engine.WithPublisher(eventBus),
				engine.WithProgressCadence(command.Duration("progress-cadence")),
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "pipevine-api")
				if err != nil {
					return err
				}

				executorOpts = append(executorOpts, executor.WithTracer(tracer))
				runnerOpts = append(runnerOpts, engine.WithTracer(tracer))
			}

			taskExecutor := executor.NewClient(logger, command.String("backend-url"), executorOpts...)

			pollers := poller.NewRegistry(logger, store, eventBus, command.Duration("poll-interval"))
			defer pollers.StopAll()

			runner := engine.NewRunner(
				logger,
				store,
				taskExecutor,
				inputAdapter,
				pollers,
				tracker,
				runnerOpts...,
			)

			workflowService := services.NewWorkflow(logger, store, runner, pollers, tracker)

			api := NewAPI(logger, workflowService)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
