package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/WelcomerTeam/Crust/relay"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	envPath    string
	processes  int32
)

var rootCmd = &cobra.Command{
	Use:          "crust",
	Short:        "Gateway shard connection manager",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shards of this process",
	Long: `Connect every shard this process owns and keep them connected.

With relay.mode set to pipe or nats, the process reports to a supervisor
started with "crust supervise".`,
	RunE: runShards,
}

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run several shard processes as one bot",
	Long: `Relay aggregate state and events between shard processes.

In pipe mode the supervisor starts each process itself. In nats mode the
processes are started elsewhere and found through relay.subject.`,
	RunE: runSupervisor,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file loaded before the configuration")

	superviseCmd.Flags().Int32VarP(&processes, "processes", "p", 0, "number of processes, defaults to relay.process_count")

	rootCmd.AddCommand(runCmd, superviseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfiguration(ctx context.Context) (*crust.Configuration, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	configuration, err := crust.NewConfigProviderFromPath(configPath).GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	if err := configuration.ApplyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return configuration, nil
}

func runShards(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configuration, err := loadConfiguration(ctx)
	if err != nil {
		return err
	}

	// In pipe mode stdout carries the relay.
	var console io.Writer = os.Stdout
	if configuration.Relay.Mode == "pipe" {
		console = os.Stderr
	}

	logger, closer, err := crust.NewLogger(configuration.Logging, console)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer closer.Close()

	if configuration.Relay.ProcessCount > 1 && configuration.NodeCount == 0 {
		configuration.NodeCount = configuration.Relay.ProcessCount
		configuration.NodeID = configuration.Relay.ProcessID
	}

	bus := crust.NewBus()
	defer bus.Close()

	options := crust.ManagerOptions{
		Logger: logger,
		Bus:    bus,
	}

	if configuration.RESTURL != "" {
		restURL, err := url.Parse(configuration.RESTURL)
		if err != nil {
			return fmt.Errorf("failed to parse rest_url: %w", err)
		}

		options.Client = crust.NewClient(crust.NewProxyClient(*http.DefaultClient, *restURL), clock.Real(), configuration.Token)
	}

	if configuration.Identify.URL != "" {
		options.IdentifyProvider = crust.NewIdentifyViaURL(clock.Real(), configuration.Identify.URL, configuration.Identify.Headers)
	}

	var producer crust.Producer

	messagingProducer, err := crust.NewProducerFromConfiguration(ctx, configuration)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	if messagingProducer != nil {
		producer = messagingProducer

		defer messagingProducer.Close()
	}

	options.Dispatcher = crust.NewEventProviderWithBlacklist(
		crust.NewDispatchTable(),
		producer,
		configuration.EventBlacklist,
		configuration.ProduceBlacklist,
	)

	child, err := newChildRelay(logger, configuration, bus)
	if err != nil {
		return err
	}

	if child != nil {
		options.Relay = child
	}

	manager, err := crust.NewManager(configuration, options)
	if err != nil {
		return err
	}

	if child != nil {
		child.OnDisconnect(manager.DisconnectAll)

		go func() {
			if err := child.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Relay stopped")
			}

			// Without a supervisor there is nobody to report to.
			stop()
		}()
	}

	if configuration.HTTP.Enabled {
		service := crust.NewService(logger, manager)

		go func() {
			if err := service.ListenAndServe(configuration.HTTP.Host); err != nil {
				logger.Error().Err(err).Msg("HTTP server stopped")
			}
		}()

		defer service.Shutdown() //nolint:errcheck
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}

	<-ctx.Done()

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return manager.Stop(shutdownCtx)
}

func newChildRelay(logger zerolog.Logger, configuration *crust.Configuration, bus *crust.Bus) (*relay.Child, error) {
	switch configuration.Relay.Mode {
	case "", "local":
		return nil, nil
	case "pipe":
		return relay.NewChild(logger, configuration.Relay.ProcessID, relay.NewPipeChannel(os.Stdin, os.Stdout), bus), nil
	case "nats":
		conn, err := nats.Connect(configuration.Relay.NATSAddress, nats.Name(configuration.Identifier))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}

		channel := relay.NewNATSChildChannel(conn, relaySubject(configuration), configuration.Relay.ProcessID)

		return relay.NewChild(logger, configuration.Relay.ProcessID, channel, bus), nil
	default:
		return nil, fmt.Errorf("unknown relay mode %q", configuration.Relay.Mode)
	}
}

func relaySubject(configuration *crust.Configuration) string {
	if configuration.Relay.Subject != "" {
		return configuration.Relay.Subject
	}

	return "crust." + configuration.Identifier
}

func runSupervisor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configuration, err := loadConfiguration(ctx)
	if err != nil {
		return err
	}

	logger, closer, err := crust.NewLogger(configuration.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer closer.Close()

	count := processes
	if count <= 0 {
		count = configuration.Relay.ProcessCount
	}

	if count <= 0 {
		return errors.New("process count must be positive")
	}

	var (
		channels []relay.Channel
		spawned  []*relay.Process
	)

	switch configuration.Relay.Mode {
	case "nats":
		conn, err := nats.Connect(configuration.Relay.NATSAddress, nats.Name(configuration.Identifier+"-supervisor"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}

		defer conn.Close()

		channels = relay.NewNATSSupervisorChannels(conn, relaySubject(configuration), count)
	default:
		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to find executable: %w", err)
		}

		// Children keep running until told to stop, so they outlive ctx.
		spawned, err = relay.Spawn(context.WithoutCancel(ctx), logger, count, executable, "run", "--config", configPath, "--env", envPath)
		if err != nil {
			return err
		}

		channels = relay.Channels(spawned)
	}

	supervisor := relay.NewSupervisor(logger, channels)

	// The relay must keep serving replies while processes shut down.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	go func() {
		if err := supervisor.Run(runCtx); err != nil {
			logger.Error().Err(err).Msg("Supervisor stopped")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Disconnecting every process")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := supervisor.DisconnectAll(shutdownCtx, int(crust.CloseManual)); err != nil {
		logger.Warn().Err(err).Msg("Failed to disconnect every process")
	}

	if err := supervisor.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close relay channels")
	}

	if spawned != nil {
		return relay.WaitAll(spawned)
	}

	return nil
}
