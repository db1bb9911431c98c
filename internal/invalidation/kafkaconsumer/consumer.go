// Package kafkaconsumer consumes tile invalidation events and prunes the
// offline cache plus the in-memory viewport so stale records disappear
// without a restart.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cyrcle-app/parking-engine/internal/cache/keys"
	obs "github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/geo"
	"github.com/cyrcle-app/parking-engine/internal/invalidation"
)

// TilePruner removes downloaded tiles from the offline cache.
type TilePruner interface {
	DeleteTiles(ctx context.Context, tiles []geo.Tile) error
}

// ViewportInvalidator forgets resolved tiles in the live working set.
type ViewportInvalidator interface {
	Invalidate(tiles []geo.Tile)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  TilePruner
	view   ViewportInvalidator

	// seen suppresses redeliveries of the same payload across rebalances
	seen *lru.Cache[string, struct{}]
}

func New(cfg Config, logger *slog.Logger, cache TilePruner, view ViewportInvalidator) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = geo.DefaultTileSize
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = 1024
	}
	seen, err := lru.New[string, struct{}](cfg.SeenWindow)
	if err != nil {
		return nil, fmt.Errorf("seen window: %w", err)
	}
	return &Consumer{cfg: cfg, logger: logger, cache: cache, view: view, seen: seen}, nil
}

// Start runs the consumer group loop until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("tile invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("tile invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single invalidation message. Failures are returned
// so the offset stays unmarked and the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.Error("invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}

	tiles, err := ev.Tiles(c.cfg.TileSize)
	if err != nil {
		obs.IncKafkaConsumerError("validate")
		obs.ObserveInvalidation(ev.Op, 0, time.Since(start), err)
		return fmt.Errorf("derive tiles: %w", err)
	}
	if len(tiles) == 0 {
		obs.ObserveInvalidation(ev.Op, 0, time.Since(start), nil)
		return nil
	}

	// redelivered payloads already took effect
	fp := keys.Fingerprint(string(msg.Value))
	if _, dup := c.seen.Get(fp); dup {
		c.logger.Debug("duplicate invalidation skipped",
			"op", ev.Op, "tiles", len(tiles), "offset", msg.Offset)
		return nil
	}

	if err := c.cache.DeleteTiles(ctx, tiles); err != nil {
		obs.IncKafkaConsumerError("cache_prune")
		obs.ObserveInvalidation(ev.Op, len(tiles), time.Since(start), err)
		c.logger.Error("tile prune failed",
			"op", ev.Op, "tiles", len(tiles), "offset", msg.Offset, "err", err)
		return fmt.Errorf("prune tiles: %w", err)
	}
	if c.view != nil {
		c.view.Invalidate(tiles)
	}
	c.seen.Add(fp, struct{}{})

	obs.ObserveInvalidation(ev.Op, len(tiles), time.Since(start), nil)
	c.logger.Debug("tiles invalidated",
		"op", ev.Op, "parking_id", ev.ParkingID, "tiles", len(tiles))
	return nil
}
