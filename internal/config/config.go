package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"TreasurySentinel/internal/allocator"
	"TreasurySentinel/internal/model"
	"TreasurySentinel/internal/strategy"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMemory    = "memory"
	TransportPostgres  = "postgres"
	TransportWebSocket = "websocket"
)

// Price sources.
const (
	PricesStatic    = "static"
	PricesCoinGecko = "coingecko"
)

// Config holds all application configuration.
type Config struct {
	Agents struct {
		RiskMonitor      string `yaml:"risk_monitor"`
		PortfolioManager string `yaml:"portfolio_manager"`
	} `yaml:"agents"`
	Transport struct {
		Kind         string `yaml:"kind"`
		PostgresDSN  string `yaml:"postgres_dsn"`
		RelayURL     string `yaml:"relay_url"`
		ListenAddr   string `yaml:"listen_addr"`
		RelayBacklog int    `yaml:"relay_backlog"`
	} `yaml:"transport"`
	Treasury struct {
		MonthlyBurn float64              `yaml:"monthly_burn"`
		Tokens      []model.TokenBalance `yaml:"tokens"`
	} `yaml:"treasury"`
	Thresholds model.Thresholds       `yaml:"thresholds"`
	Policy     model.AllocationPolicy `yaml:"policy"`
	Prices     struct {
		Source  string             `yaml:"source"`
		BaseURL string             `yaml:"base_url"`
		APIKey  string             `yaml:"api_key"`
		TTL     time.Duration      `yaml:"ttl"`
		Static  map[string]float64 `yaml:"static"`
	} `yaml:"prices"`
	Coordination struct {
		ResponseTimeout time.Duration `yaml:"response_timeout"`
	} `yaml:"coordination"`
	Schedule struct {
		AnalysisCron string `yaml:"analysis_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		APIBase  string `yaml:"api_base"`
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env, the YAML file at path (missing is fine), then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"HTTPS_PROXY":        &c.Proxy,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"TRANSPORT_KIND":     &c.Transport.Kind,
		"POSTGRES_DSN":       &c.Transport.PostgresDSN,
		"RELAY_URL":          &c.Transport.RelayURL,
		"RELAY_LISTEN_ADDR":  &c.Transport.ListenAddr,
		"PRICE_SOURCE":       &c.Prices.Source,
		"COINGECKO_API_KEY":  &c.Prices.APIKey,
		"CRON_ANALYSIS":      &c.Schedule.AnalysisCron,
		"LOG_LEVEL":          &c.Log.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MONTHLY_BURN"); v != "" {
		burn, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MONTHLY_BURN: %w", err)
		}
		c.Treasury.MonthlyBurn = burn
	}
	if v := os.Getenv("RESPONSE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RESPONSE_TIMEOUT: %w", err)
		}
		c.Coordination.ResponseTimeout = d
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Agents.RiskMonitor == "" {
		c.Agents.RiskMonitor = model.AgentRiskMonitor
	}
	if c.Agents.PortfolioManager == "" {
		c.Agents.PortfolioManager = model.AgentPortfolioManager
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportMemory
	}
	if c.Transport.ListenAddr == "" {
		c.Transport.ListenAddr = ":8090"
	}
	if c.Thresholds == (model.Thresholds{}) {
		c.Thresholds = model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.35, MinRunway: 3}
	}
	if c.Policy == (model.AllocationPolicy{}) {
		c.Policy = model.AllocationPolicy{TargetStablesRatio: 0.65, Tolerance: 0.05, MaxMovePctPerCycle: 0.2, AssetCapPct: 0.35}
	}
	if c.Prices.Source == "" {
		c.Prices.Source = PricesStatic
	}
	if c.Prices.TTL == 0 {
		c.Prices.TTL = 5 * time.Minute
	}
	if c.Coordination.ResponseTimeout == 0 {
		c.Coordination.ResponseTimeout = 30 * time.Second
	}
	if c.Schedule.AnalysisCron == "" {
		c.Schedule.AnalysisCron = "0 0 * * * *"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/treasury_sentinel.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks everything an analysis cycle needs.
func (c *Config) Validate() error {
	if c.Agents.RiskMonitor == c.Agents.PortfolioManager {
		return fmt.Errorf("agents.risk_monitor and agents.portfolio_manager must differ")
	}
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportPostgres:
		if c.Transport.PostgresDSN == "" {
			return fmt.Errorf("transport.postgres_dsn is required for postgres transport")
		}
	case TransportWebSocket:
		if c.Transport.RelayURL == "" {
			return fmt.Errorf("transport.relay_url is required for websocket transport")
		}
	default:
		return fmt.Errorf("transport.kind %q is not one of memory, postgres, websocket", c.Transport.Kind)
	}
	switch c.Prices.Source {
	case PricesStatic, PricesCoinGecko:
	default:
		return fmt.Errorf("prices.source %q is not one of static, coingecko", c.Prices.Source)
	}
	if len(c.Treasury.Tokens) == 0 {
		return fmt.Errorf("treasury.tokens must list at least one holding")
	}
	if c.Treasury.MonthlyBurn < 0 {
		return fmt.Errorf("treasury.monthly_burn must not be negative")
	}
	if c.Coordination.ResponseTimeout < 0 {
		return fmt.Errorf("coordination.response_timeout must not be negative")
	}
	if err := strategy.ValidateThresholds(c.Thresholds); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := allocator.ValidatePolicy(c.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// ValidateTelegram checks the fields the daemon needs to deliver reports.
func (c *Config) ValidateTelegram() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, fmt.Errorf("telegram.bot_token is required"))
	}
	if c.Telegram.ChatID == "" {
		errs = append(errs, fmt.Errorf("telegram.chat_id is required"))
	}
	return errors.Join(errs...)
}
