// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JeremyLoy/config"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/simulator"
	"github.com/shopspring/decimal"
)

// env mirrors the raw environment. Money values stay strings until parsed into decimals.
type env struct {
	Port         string `config:"PORT"`
	AppEnv       string `config:"APP_ENV"`
	ServerSecret string `config:"SERVER_SECRET"`
	HouseWallet  string `config:"HOUSE_WALLET"`

	Tiers          string `config:"TIERS"`
	BotTierCeiling string `config:"BOT_TIER_CEILING"`
	Rake           string `config:"RAKE"`
	Top3Split      string `config:"TOP3_SPLIT"`
	BotBias        string `config:"BOT_BIAS"`

	FillTimeout       time.Duration `config:"FILL_TIMEOUT"`
	BotFillDelay      time.Duration `config:"BOT_FILL_DELAY"`
	AutoStartFull     time.Duration `config:"AUTO_START_FULL"`
	AutoStartPartial  time.Duration `config:"AUTO_START_PARTIAL"`
	RoundDeadline     time.Duration `config:"ROUND_DEADLINE"`
	BroadcastInterval time.Duration `config:"BROADCAST_INTERVAL"`
	SessionRetention  time.Duration `config:"SESSION_RETENTION"`
	SimPlaybackTick   time.Duration `config:"SIM_PLAYBACK_TICK"`
	RetryInterval     time.Duration `config:"TRANSFER_RETRY_INTERVAL"`

	BotLedgerInitial string `config:"BOT_LEDGER_INITIAL"`
	BotLedgerMin     string `config:"BOT_LEDGER_MIN"`

	PaymentGated        bool          `config:"PAYMENT_GATED"`
	PaymentRecheck      time.Duration `config:"PAYMENT_RECHECK"`
	PaymentAttempts     int           `config:"PAYMENT_ATTEMPTS"`
	PaymentWebhookToken string        `config:"PAYMENT_WEBHOOK_TOKEN"`

	StoreMode  string `config:"STORE_MODE"`
	SQLitePath string `config:"SQLITE_PATH"`
	PGUser     string `config:"POSTGRES_USER"`
	PGPassword string `config:"POSTGRES_PASSWORD"`
	PGHost     string `config:"PG_HOST"`
	PGPort     string `config:"PG_PORT"`
	PGDatabase string `config:"PG_DATABASE"`

	RedisAddr      string `config:"REDIS_ADDR"`
	RedisDB        int    `config:"REDIS_DB"`
	EventQueueName string `config:"EVENT_QUEUE_NAME"`

	HistorianBatch  int           `config:"HISTORIAN_BATCH_SIZE"`
	HistorianFlush  time.Duration `config:"HISTORIAN_FLUSH"`
	MatchInactivity time.Duration `config:"MATCH_INACTIVITY_TIMEOUT"`

	TokenExpire    string `config:"TOKEN_EXPIRE_TIME"`
	AuthPrivateKey string `config:"AUTH_PRIVATE_KEY"`
	AuthPublicKey  string `config:"AUTH_PUBLIC_KEY"`
}

// Config is the parsed, validated runtime configuration.
type Config struct {
	Port         string
	AppEnv       string
	ServerSecret string
	HouseWallet  string

	Tiers          []decimal.Decimal
	BotTierCeiling decimal.Decimal
	Rake           decimal.Decimal
	Top3Split      [3]decimal.Decimal
	// BotBias maps lobby size to the probability that a bot is promoted at settlement.
	// Empty unless BOT_BIAS is set explicitly.
	BotBias map[int]float64

	GameTypes map[string]models.GameType

	FillTimeout       time.Duration
	BotFillDelay      time.Duration
	AutoStartFull     time.Duration
	AutoStartPartial  time.Duration
	RoundDeadline     time.Duration
	BroadcastInterval time.Duration
	SessionRetention  time.Duration
	SimPlaybackTick   time.Duration
	RetryInterval     time.Duration

	BotLedgerInitial decimal.Decimal
	BotLedgerMin     decimal.Decimal

	PaymentGated    bool
	PaymentRecheck  time.Duration
	PaymentAttempts int

	// PaymentWebhookToken authenticates the payment verifier posting confirmations.
	PaymentWebhookToken string

	StoreMode   string
	SQLitePath  string
	PostgresDSN string

	RedisAddr      string
	RedisDB        int
	EventQueueName string

	HistorianBatch  int
	HistorianFlush  time.Duration
	MatchInactivity time.Duration

	TokenExpire string
	// AuthPrivateKey and AuthPublicKey are paths to a raw ed25519 key pair. When unset a
	// fresh pair is generated at startup.
	AuthPrivateKey string
	AuthPublicKey  string
}

// DefaultGameTypes are the game types offered when none are configured.
var DefaultGameTypes = map[string]models.GameType{
	"flappy_royale": {Name: "flappy_royale", MinPlayers: 4, MaxPlayers: 8, Mode: models.ModeRoyale, Payout: models.PayoutWinnerTakesMost},
	"coin_race":     {Name: "coin_race", MinPlayers: 2, MaxPlayers: 6, Mode: models.ModeRace, Payout: models.PayoutTop3},
	"auto_arena":    {Name: "auto_arena", MinPlayers: 2, MaxPlayers: 8, Mode: models.ModeSimulated, Payout: models.PayoutTop3},
}

func defaults() env {
	return env{
		Port:              "8080",
		AppEnv:            "dev",
		ServerSecret:      "dev-server-secret",
		HouseWallet:       "house",
		Tiers:             "0.05,0.1,0.25,0.5,1",
		BotTierCeiling:    "0.25",
		Rake:              "0.10",
		Top3Split:         "0.75,0.10,0.05",
		FillTimeout:       60 * time.Second,
		BotFillDelay:      25 * time.Second,
		AutoStartFull:     3 * time.Second,
		AutoStartPartial:  15 * time.Second,
		RoundDeadline:     180 * time.Second,
		BroadcastInterval: 50 * time.Millisecond,
		SessionRetention:  10 * time.Minute,
		SimPlaybackTick:   50 * time.Millisecond,
		RetryInterval:     30 * time.Second,
		BotLedgerInitial:  "0",
		BotLedgerMin:      "5",
		PaymentRecheck:    2 * time.Second,
		PaymentAttempts:   5,
		StoreMode:         "memory",
		SQLitePath:        "stakeroyale.db",
		PGHost:            "localhost",
		PGPort:            "5432",
		RedisDB:           0,
		EventQueueName:    "stakeroyale_events",
		HistorianBatch:    20,
		HistorianFlush:    500 * time.Millisecond,
		MatchInactivity:   10 * time.Minute,
	}
}

// Load reads the environment on top of the defaults and validates the result.
func Load() (*Config, error) {
	raw := defaults()
	if err := config.FromEnv().To(&raw); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return build(raw)
}

// Default returns the validated default configuration without consulting the environment.
func Default() *Config {
	cfg, err := build(defaults())
	if err != nil {
		panic(err)
	}
	return cfg
}

func build(raw env) (*Config, error) {
	cfg := &Config{
		Port:              raw.Port,
		AppEnv:            raw.AppEnv,
		ServerSecret:      raw.ServerSecret,
		HouseWallet:       raw.HouseWallet,
		GameTypes:         DefaultGameTypes,
		FillTimeout:       raw.FillTimeout,
		BotFillDelay:      raw.BotFillDelay,
		AutoStartFull:     raw.AutoStartFull,
		AutoStartPartial:  raw.AutoStartPartial,
		RoundDeadline:     raw.RoundDeadline,
		BroadcastInterval: raw.BroadcastInterval,
		SessionRetention:  raw.SessionRetention,
		SimPlaybackTick:   raw.SimPlaybackTick,
		RetryInterval:     raw.RetryInterval,
		PaymentGated:      raw.PaymentGated,
		PaymentRecheck:    raw.PaymentRecheck,
		PaymentAttempts:   raw.PaymentAttempts,
		StoreMode:         strings.ToLower(strings.TrimSpace(raw.StoreMode)),
		SQLitePath:        raw.SQLitePath,
		RedisAddr:         raw.RedisAddr,
		RedisDB:           raw.RedisDB,
		EventQueueName:    raw.EventQueueName,
		HistorianBatch:    raw.HistorianBatch,
		HistorianFlush:    raw.HistorianFlush,
		MatchInactivity:   raw.MatchInactivity,
		TokenExpire:       raw.TokenExpire,
	}
	cfg.PaymentWebhookToken = raw.PaymentWebhookToken
	cfg.AuthPrivateKey, cfg.AuthPublicKey = raw.AuthPrivateKey, raw.AuthPublicKey
	if raw.PGUser != "" {
		cfg.PostgresDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			raw.PGUser, raw.PGPassword, raw.PGHost, raw.PGPort, raw.PGDatabase)
	}

	var err error
	if cfg.Tiers, err = ParseDecimals(raw.Tiers); err != nil {
		return nil, fmt.Errorf("TIERS: %w", err)
	}
	if cfg.BotTierCeiling, err = decimal.NewFromString(raw.BotTierCeiling); err != nil {
		return nil, fmt.Errorf("BOT_TIER_CEILING: %w", err)
	}
	if cfg.Rake, err = decimal.NewFromString(raw.Rake); err != nil {
		return nil, fmt.Errorf("RAKE: %w", err)
	}
	split, err := ParseDecimals(raw.Top3Split)
	if err != nil {
		return nil, fmt.Errorf("TOP3_SPLIT: %w", err)
	}
	if len(split) != 3 {
		return nil, fmt.Errorf("TOP3_SPLIT: want 3 shares, got %d", len(split))
	}
	copy(cfg.Top3Split[:], split)
	if cfg.BotBias, err = ParseBias(raw.BotBias); err != nil {
		return nil, fmt.Errorf("BOT_BIAS: %w", err)
	}
	if cfg.BotLedgerInitial, err = decimal.NewFromString(raw.BotLedgerInitial); err != nil {
		return nil, fmt.Errorf("BOT_LEDGER_INITIAL: %w", err)
	}
	if cfg.BotLedgerMin, err = decimal.NewFromString(raw.BotLedgerMin); err != nil {
		return nil, fmt.Errorf("BOT_LEDGER_MIN: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("at least one entry tier is required")
	}
	for _, t := range c.Tiers {
		if !t.IsPositive() {
			return fmt.Errorf("entry tier %s must be positive", t)
		}
	}
	if c.Rake.IsNegative() || c.Rake.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("rake %s must be in [0,1)", c.Rake)
	}
	sum := c.Rake
	for _, s := range c.Top3Split {
		if s.IsNegative() {
			return fmt.Errorf("top-3 share %s is negative", s)
		}
		sum = sum.Add(s)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("top-3 shares plus rake sum to %s, want 1", sum)
	}
	if c.BotFillDelay >= c.FillTimeout {
		return fmt.Errorf("bot-fill delay %s must be shorter than fill timeout %s", c.BotFillDelay, c.FillTimeout)
	}
	if c.AutoStartFull > c.AutoStartPartial {
		return fmt.Errorf("full-lobby auto start %s must not exceed partial auto start %s", c.AutoStartFull, c.AutoStartPartial)
	}
	// simulated playback has to finish before the round deadline cuts it off
	if playback := time.Duration(simulator.DefaultConfig().MaxTicks) * c.SimPlaybackTick; playback >= c.RoundDeadline {
		return fmt.Errorf("simulated playback of up to %s must be shorter than round deadline %s", playback, c.RoundDeadline)
	}
	for name, gt := range c.GameTypes {
		if gt.MinPlayers < 1 || gt.MaxPlayers < gt.MinPlayers {
			return fmt.Errorf("game type %s: invalid capacity %d..%d", name, gt.MinPlayers, gt.MaxPlayers)
		}
	}
	switch c.StoreMode {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown STORE_MODE %q", c.StoreMode)
	}
	return nil
}

// IsTier reports whether amount is one of the configured entry tiers.
func (c *Config) IsTier(amount decimal.Decimal) bool {
	for _, t := range c.Tiers {
		if t.Equal(amount) {
			return true
		}
	}
	return false
}

// BotEligible reports whether lobbies at this tier may be filled with bots.
func (c *Config) BotEligible(tier decimal.Decimal) bool {
	return tier.LessThanOrEqual(c.BotTierCeiling)
}

// ParseDecimals parses a comma separated list of decimals.
func ParseDecimals(s string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := decimal.NewFromString(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseBias parses "size:probability,..." pairs, e.g. "2:0.1,4:0.25".
func ParseBias(s string) (map[int]float64, error) {
	out := make(map[int]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed pair %q", part)
		}
		size, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("lobby size %q: %w", k, err)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("probability %q: %w", v, err)
		}
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("probability %v out of range", p)
		}
		out[size] = p
	}
	return out, nil
}
