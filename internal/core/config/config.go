package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type FeedEventsCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
}

type Config struct {
	Addr               string
	LogLevel           string
	RedisAddr          string
	ProvidersFile      string
	FeedUpdateInterval time.Duration
	MinimumTTL         time.Duration
	LeaderLeaseTTL     time.Duration
	LeaderRetry        time.Duration
	ListenerShards     int
	FetchTimeout       time.Duration
	FeedEvents         FeedEventsCfg
}

func FromEnv() Config {
	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		ProvidersFile:      getenv("PROVIDERS_FILE", "providers.yml"),
		FeedUpdateInterval: getduration("FEED_UPDATE_INTERVAL", 30*time.Second),
		MinimumTTL:         getduration("MINIMUM_TTL", 60*time.Second),
		LeaderLeaseTTL:     getduration("LEADER_LEASE_TTL", 15*time.Second),
		LeaderRetry:        getduration("LEADER_RETRY", 5*time.Second),
		ListenerShards:     getint("LISTENER_SHARDS", 8),
		FetchTimeout:       getduration("FETCH_TIMEOUT", 10*time.Second),
		FeedEvents: FeedEventsCfg{
			Enabled: getbool("FEED_EVENTS_ENABLED", false),
			Topic:   getenv("FEED_EVENTS_TOPIC", "gbfs-feed-updates"),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
