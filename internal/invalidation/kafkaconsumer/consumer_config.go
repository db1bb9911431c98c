package kafkaconsumer

import (
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool

	// TileSize is the grid size used to derive tiles from bbox events.
	TileSize float64
	// SeenWindow bounds the duplicate-suppression memory.
	SeenWindow int
}

// FromSettings fills the sarama timeouts the deployment never overrides.
func FromSettings(brokers, topic, groupID string, tileSize float64) Config {
	return Config{
		Brokers:             SplitBrokers(brokers),
		Topic:               topic,
		GroupID:             groupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		TileSize:            tileSize,
		SeenWindow:          1024,
	}
}

func SplitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
