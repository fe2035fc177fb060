package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Replace this with whatever PUBSUB/implementation you want to use.

type CountingProducer struct {
	logger  zerolog.Logger
	counter *atomic.Int64
}

func NewCountingProducer(ctx context.Context, logger zerolog.Logger) *CountingProducer {
	producer := &CountingProducer{
		logger:  logger,
		counter: atomic.NewInt64(0),
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				producer.logger.Info().Int64("events", producer.counter.Swap(0)).Msg("Events/s")
			}
		}
	}()

	return producer
}

func (p *CountingProducer) Publish(_ context.Context, _ *crust.Shard, payload *crust.ProducedPayload) error {
	p.counter.Inc()
	p.logger.Debug().Str("type", payload.Type).Int64("sequence", payload.Sequence).Msg("Publish")

	return nil
}

func (p *CountingProducer) Close() error {
	return nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := crust.NewBus()

	// Handlers run on the shard's read goroutine, in the order events arrive.
	table := crust.NewDispatchTable().
		On(crust.EventKindMessageCreate, func(_ context.Context, shard *crust.Shard, event crust.Event) {
			shard.Logger.Info().Int64("sequence", event.Sequence).Msg("Received message")
		}).
		On(crust.EventKindUnknown, func(_ context.Context, shard *crust.Shard, event crust.Event) {
			shard.Logger.Debug().Str("event", event.Name).Msg("Received unknown event")
		})

	manager, err := crust.NewManager(&crust.Configuration{
		Token:   os.Getenv("CRUST_TOKEN"),
		Intents: 513,
		DefaultPresence: crust.UpdateStatus{
			Activities: []*crust.Activity{{Name: "shard {shard_id}", Type: crust.ActivityTypeWatching}},
		},
	}, crust.ManagerOptions{
		Logger: logger,
		Bus:    bus,

		// Events are produced after the table has seen them. Drop typing events entirely.
		Dispatcher: crust.NewEventProviderWithBlacklist(table, NewCountingProducer(ctx, logger), []string{"TYPING_START"}, nil),
	})
	if err != nil {
		panic(fmt.Errorf("failed to create manager: %w", err))
	}

	events := bus.Subscribe(16)

	go func() {
		for event := range events {
			if event.Name == crust.CrustAllShardsReady {
				logger.Info().Msg("Every shard is ready")
			}
		}
	}()

	if err := manager.Start(ctx); err != nil {
		panic(fmt.Errorf("failed to start manager: %w", err))
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop manager")
	}

	bus.Close()
}
