package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// AssetDef describes one synthetic asset listed on the venue.
type AssetDef struct {
	Symbol      string
	Name        string
	Price       decimal.Decimal // initial mark price
	Supply      decimal.Decimal
	Circulating decimal.Decimal // normalizes volume impact
}

type Pricing struct {
	// ImpactFactor scales volume-imbalance pressure into a relative price move.
	ImpactFactor float64
	// DriftRange is the half-width of the symmetric random walk applied on quiet ticks.
	DriftRange float64
	// SeedDriftRange is the half-width used when seeding synthetic price history.
	SeedDriftRange float64
	// Floor is the minimum mark price; clamped on every update.
	Floor decimal.Decimal
	// HistoryCap bounds the per-asset price history series.
	HistoryCap int
	// SeedPoints is the number of synthetic history points generated at startup.
	SeedPoints int
	// TickInterval drives the drift/rebroadcast loop.
	TickInterval time.Duration
}

type Fees struct {
	WithdrawPct   float64 // flat percentage taken from every withdrawal
	MinDeposit    decimal.Decimal
	MaxDeposit    decimal.Decimal
	MinWithdrawal decimal.Decimal
}

type Server struct {
	ListenAddr     string
	AllowedOrigins []string
	DataDir        string
	LogFile        string
	JWTSecret      string
	TokenTTL       time.Duration
}

type Config struct {
	Assets  []AssetDef
	Pricing Pricing
	Fees    Fees
	Server  Server
}

func Default() Config {
	return Config{
		Assets: []AssetDef{
			{Symbol: "MINT", Name: "Mint Token", Price: dec("0.078"), Supply: dec("21000000"), Circulating: dec("10000000")},
			{Symbol: "RWK", Name: "Rewoke Token", Price: dec("0.007"), Supply: dec("910900000"), Circulating: dec("500000000")},
			{Symbol: "SKH", Name: "Skyhost Token", Price: dec("0.0009"), Supply: dec("1000900000"), Circulating: dec("600000000")},
			{Symbol: "WTFL", Name: "Waterfall Token", Price: dec("0.09"), Supply: dec("980000000"), Circulating: dec("450000000")},
			{Symbol: "CULT", Name: "Cult Token", Price: dec("0.07"), Supply: dec("91000000"), Circulating: dec("45000000")},
		},
		Pricing: Pricing{
			ImpactFactor:   0.02,
			DriftRange:     0.005,
			SeedDriftRange: 0.01,
			Floor:          dec("0.0001"),
			HistoryCap:     200,
			SeedPoints:     100,
			TickInterval:   5 * time.Second,
		},
		Fees: Fees{
			WithdrawPct:   0.03,
			MinDeposit:    dec("10"),
			MaxDeposit:    dec("1000"),
			MinWithdrawal: dec("5"),
		},
		Server: Server{
			ListenAddr:     ":3000",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			DataDir:        "data",
			LogFile:        "data/venue.log",
			JWTSecret:      "dev-secret-change-me",
			TokenTTL:       24 * time.Hour,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables.
// Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Server.DataDir = dir
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.Server.LogFile = f
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Pricing.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("IMPACT_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.ImpactFactor = f
		}
	}
	if v := os.Getenv("DRIFT_RANGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.DriftRange = f
		}
	}
	if v := os.Getenv("WITHDRAW_FEE_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fees.WithdrawPct = f
		}
	}

	return cfg
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
