package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	MySQLDSN  string
	RedisAddr string

	AddressURL string

	TileSizeDeg       float64
	ViewportPadFactor float64
	MinZoomForFetch   float64

	CacheTTLTile    time.Duration
	CacheTTLParking time.Duration

	ResolveMaxWorkers int
	ResolveQueue      int
	StoreOpTimeout    time.Duration

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	tileSize := getfloat("TILE_SIZE_DEG", 0.1)
	if tileSize <= 0 {
		tileSize = 0.1
	}

	pad := getfloat("VIEWPORT_PAD_FACTOR", 1.0)
	if pad < 1 {
		pad = 1
	}

	ttlTile := getduration("CACHE_TTL_TILE", 5*time.Minute)

	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		MySQLDSN:  getenv("MYSQL_DSN", "parking:parking@tcp(localhost:3306)/cyrcle?parseTime=true"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),

		AddressURL: getenv("ADDRESS_URL", "https://nominatim.openstreetmap.org"),

		TileSizeDeg:       tileSize,
		ViewportPadFactor: pad,
		MinZoomForFetch:   getfloat("MIN_ZOOM_FOR_FETCH", 7.0),

		CacheTTLTile:    ttlTile,
		CacheTTLParking: getduration("CACHE_TTL_PARKING", 2*ttlTile),

		ResolveMaxWorkers: getint("RESOLVE_MAX_WORKERS", 8),
		ResolveQueue:      getint("RESOLVE_QUEUE", 64),
		StoreOpTimeout:    getduration("STORE_OP_TIMEOUT", 500*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "parking-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
