package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	CatalogURL    string
	PublicBaseURL string
	UploadDir     string

	SettingsSecret   string
	SettingsCacheTTL time.Duration

	CheckoutTimeout     time.Duration
	CheckoutStepTimeout time.Duration
	GatewayMaxRetries   int
	MockGatewayApproves bool

	LogLevel string
	LogFile  string
}

// DefaultSettingsSecret only suits the in-memory mode: anything encrypted
// with it can be read by anyone who has this source.
const DefaultSettingsSecret = "change-me-settings-secret"

var ErrDefaultSecret = errors.New("SETTINGS_SECRET must be set when POSTGRES_DSN is set")

var defaults = map[string]any{
	"ORDER_SERVICE_ADDR":    ":8082",
	"GRPC_ADDR":             ":50052",
	"POSTGRES_DSN":          "",
	"REDIS_ADDR":            "",
	"KAFKA_BROKERS":         "",
	"CATALOG_BASE_URL":      "",
	"PUBLIC_BASE_URL":       "http://localhost:8082",
	"UPLOAD_DIR":            "./uploads",
	"SETTINGS_SECRET":       DefaultSettingsSecret,
	"SETTINGS_CACHE_TTL":    "5m",
	"CHECKOUT_TIMEOUT":      "30s",
	"CHECKOUT_STEP_TIMEOUT": "5s",
	"GATEWAY_MAX_RETRIES":   2,
	"MOCK_GATEWAY_APPROVES": true,
	"LOG_LEVEL":             "info",
	"LOG_FILE":              "",
}

// Load reads .env (when present) and the process environment. An empty
// POSTGRES_DSN selects the in-memory stores.
func Load() Config {
	_ = godotenv.Load() // load .env if it exists
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) Config {
	return Config{
		HTTPAddr:            v.GetString("ORDER_SERVICE_ADDR"),
		GRPCAddr:            v.GetString("GRPC_ADDR"),
		PostgresDSN:         v.GetString("POSTGRES_DSN"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		KafkaBrokers:        splitCSV(v.GetString("KAFKA_BROKERS")),
		CatalogURL:          strings.TrimRight(v.GetString("CATALOG_BASE_URL"), "/"),
		PublicBaseURL:       strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		UploadDir:           v.GetString("UPLOAD_DIR"),
		SettingsSecret:      v.GetString("SETTINGS_SECRET"),
		SettingsCacheTTL:    v.GetDuration("SETTINGS_CACHE_TTL"),
		CheckoutTimeout:     v.GetDuration("CHECKOUT_TIMEOUT"),
		CheckoutStepTimeout: v.GetDuration("CHECKOUT_STEP_TIMEOUT"),
		GatewayMaxRetries:   v.GetInt("GATEWAY_MAX_RETRIES"),
		MockGatewayApproves: v.GetBool("MOCK_GATEWAY_APPROVES"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFile:             v.GetString("LOG_FILE"),
	}
}

func (c Config) UsesDefaultSecret() bool { return c.SettingsSecret == DefaultSettingsSecret }

// Validate rejects configurations that would persist data under a publicly
// known key.
func (c Config) Validate() error {
	if c.PostgresDSN != "" && c.UsesDefaultSecret() {
		return ErrDefaultSecret
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
