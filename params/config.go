package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Gateway struct {
	ConnectionID string
	// OrderPrefix is prepended to the numeric local sequence when the gateway
	// issues client order ids (e.g. "C" -> C1, C2, ...).
	OrderPrefix string
	DataDir     string
	// StoreDSN selects a MySQL store instead of the local pebble database.
	StoreDSN string
	// SessionOpenOffset is the trading-session start relative to midnight of
	// the trading day. Night sessions that open the evening before use a
	// negative offset, e.g. -3h for 21:00 on the previous calendar day.
	SessionOpenOffset time.Duration
	// TradingDay overrides the trading-session date. Zero means "today".
	TradingDay time.Time
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Sim struct {
	// FillChunks splits each simulated order into this many fills. 0 disables fills.
	FillChunks    int
	Latency       time.Duration
	CommissionBps int64
	// OpenWait is how long exchange callbacks wait for the provider to open
	// before they are buffered as missed events.
	OpenWait time.Duration
	// Symbols maps tradable instruments to their exchange code.
	Symbols map[string]string
}

type Config struct {
	Gateway Gateway
	API     API
	Kafka   Kafka
	Sim     Sim
	LogFile string
	Verbose bool
}

func Default() Config {
	return Config{
		Gateway: Gateway{
			ConnectionID:      "sim-1",
			OrderPrefix:       "C",
			DataDir:           "data/gateway",
			SessionOpenOffset: -3 * time.Hour,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Kafka: Kafka{
			Topic: "execution-reports",
		},
		Sim: Sim{
			FillChunks:    2,
			Latency:       20 * time.Millisecond,
			CommissionBps: 2,
			OpenWait:      10 * time.Second,
			Symbols: map[string]string{
				"IF2604": "CFFEX",
				"IC2604": "CFFEX",
				"rb2605": "SHFE",
			},
		},
		LogFile: "data/gateway.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Gateway.ConnectionID = getEnv("GW_CONNECTION_ID", cfg.Gateway.ConnectionID)
	cfg.Gateway.OrderPrefix = getEnv("GW_ORDER_PREFIX", cfg.Gateway.OrderPrefix)
	cfg.Gateway.DataDir = getEnv("GW_DATA_DIR", cfg.Gateway.DataDir)
	cfg.Gateway.StoreDSN = getEnv("GW_STORE_DSN", cfg.Gateway.StoreDSN)

	if off := os.Getenv("GW_SESSION_OPEN_OFFSET"); off != "" {
		if d, err := time.ParseDuration(off); err == nil {
			cfg.Gateway.SessionOpenOffset = d
		}
	}
	// Format: 2006-01-02
	if day := os.Getenv("GW_TRADING_DAY"); day != "" {
		if t, err := time.ParseInLocation(time.DateOnly, day, time.Local); err == nil {
			cfg.Gateway.TradingDay = t
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	// Kafka publishing is off unless brokers are configured
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	if n := os.Getenv("SIM_FILL_CHUNKS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v >= 0 {
			cfg.Sim.FillChunks = v
		}
	}
	if ms := os.Getenv("SIM_LATENCY_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Sim.Latency = time.Duration(v) * time.Millisecond
		}
	}
	if bps := os.Getenv("SIM_COMMISSION_BPS"); bps != "" {
		if v, err := strconv.ParseInt(bps, 10, 64); err == nil {
			cfg.Sim.CommissionBps = v
		}
	}

	// Format: IF2604=CFFEX,rb2605=SHFE
	if syms := os.Getenv("SIM_SYMBOLS"); syms != "" {
		table := make(map[string]string)
		for _, kv := range splitList(syms) {
			if sym, exch, ok := strings.Cut(kv, "="); ok {
				table[strings.TrimSpace(sym)] = strings.TrimSpace(exch)
			}
		}
		cfg.Sim.Symbols = table
	}

	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg
}

// SessionStart returns the instant the trading session for day opened.
func (g Gateway) SessionStart(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(g.SessionOpenOffset)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
