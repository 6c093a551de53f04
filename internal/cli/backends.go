package cli

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/config"
	"courier/internal/db"
	"courier/internal/queue"
	"courier/internal/status"
	"courier/internal/types"
)

func openStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (StatusReader, func(), error) {
	return status.Open(ctx, cfg.Store, logger)
}

func openCounter(ctx context.Context, cfg *config.Config) (StatusCounter, func(), error) {
	if cfg.Store.Backend != types.StorePostgres {
		return nil, nil, fmt.Errorf("stats requires STATUS_STORE=postgres, have %q", cfg.Store.Backend)
	}
	pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL.Unmask(), db.PoolOptions{
		MaxConns:       2,
		AcquireTimeout: cfg.Store.AcquireTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return db.NewStatusRepository(pool), pool.Close, nil
}

// amqpDeadLetters serves both dlq subcommands over one broker connection.
type amqpDeadLetters struct {
	ch       queue.InspectChannel
	queue    string
	replayer *queue.Replayer
}

func (a *amqpDeadLetters) Depth(_ context.Context) (int, error) {
	return queue.Depth(a.ch, a.queue)
}

func (a *amqpDeadLetters) Replay(ctx context.Context, limit int) (queue.ReplayResult, error) {
	return a.replayer.Replay(ctx, limit)
}

func openDeadLetters(_ context.Context, cfg *config.Config, logger *slog.Logger) (DeadLetterQueue, func(), error) {
	conn, err := queue.Dial(cfg.Broker.URL.Unmask(), "courierctl", logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close broker connection", "error", err.Error())
		}
	}

	readCh, err := conn.Channel()
	if err != nil {
		release()
		return nil, nil, err
	}
	publishCh, err := conn.Channel()
	if err != nil {
		release()
		return nil, nil, err
	}
	for _, name := range []string{cfg.Broker.DeadLetterQueue, cfg.Broker.EmailQueue} {
		if err := queue.DeclareDurable(publishCh, name); err != nil {
			release()
			return nil, nil, err
		}
	}

	publisher := queue.NewPublisher(publishCh, logger)
	return &amqpDeadLetters{
		ch:       readCh,
		queue:    cfg.Broker.DeadLetterQueue,
		replayer: queue.NewReplayer(readCh, publisher, cfg.Broker.DeadLetterQueue, cfg.Broker.EmailQueue, logger),
	}, release, nil
}
