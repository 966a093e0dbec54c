package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	Postgres          Postgres
	Telegram          Telegram
	Redis             Redis
	API               API
	Cache             Cache
	Jobs              Jobs
	GoogleDrive       GoogleDrive
	Basket            Basket
	SessionExpiration time.Duration `env:"SESSION_EXPIRATION" envDefault:"24h"`
	HistoryLimit      int           `env:"HISTORY_LIMIT" envDefault:"20"`
}

type Postgres struct {
	Host            string        `env:"PG_HOST"`
	Port            int           `env:"PG_PORT"`
	DbName          string        `env:"PG_DB_NAME"`
	Password        string        `env:"PG_PASSWORD"`
	User            string        `env:"PG_USER"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	ConnMaxLifetime int           `env:"PG_CONN_MAX_LIFETIME" envDefault:"300"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxIdleTime int           `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"60"`
	MigrationDir    string        `env:"PG_MIGRATION_DIR" envDefault:"migrations"`
	ConnAttempts    int           `env:"PG_CONN_ATTEMPTS" envDefault:"10"`
	ConnRetryDelay  time.Duration `env:"PG_CONN_RETRY_DELAY" envDefault:"1s"`
}

type Telegram struct {
	Token            string        `env:"TELEGRAM_TOKEN"`
	UpdTimeout       time.Duration `env:"TELEGRAM_UPD_TIMEOUT" envDefault:"10s"`
	FileLimitInBytes int           `env:"TELEGRAM_FILE_LIMIT_IN_BYTES" envDefault:"1048576"`
}

type Redis struct {
	Host           string        `env:"REDIS_HOST"`
	Port           int           `env:"REDIS_PORT"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB" envDefault:"0"`
	ConnAttempts   int           `env:"REDIS_CONN_ATTEMPTS" envDefault:"5"`
	ConnRetryDelay time.Duration `env:"REDIS_CONN_RETRY_DELAY" envDefault:"1s"`
}

type API struct {
	Debug   bool          `env:"API_DEBUG" envDefault:"false"`
	Timeout time.Duration `env:"API_TIMEOUT" envDefault:"10s"`
	MoexApi MoexApi
}

type MoexApi struct {
	Url   string `env:"MOEX_API_URL" envDefault:"https://iss.moex.com"`
	Board string `env:"MOEX_BOARD" envDefault:"TQBR"`
}

type Cache struct {
	StocksExpiration time.Duration `env:"CACHE_STOCKS_EXPIRATION" envDefault:"15m"`
}

type Jobs struct {
	FillMoexCacheInterval    time.Duration `env:"FILL_MOEX_CACHE_JOB_INTERVAL" envDefault:"10m"`
	DeleteOldReportsInterval time.Duration `env:"DELETE_OLD_REPORTS_JOB_INTERVAL" envDefault:"6h"`
}

type GoogleDrive struct {
	CredentialsFile string        `env:"GOOGLE_DRIVE_CREDENTIALS_FILE" envDefault:""`
	FileTTL         time.Duration `env:"GOOGLE_DRIVE_FILE_TTL" envDefault:"72h"`
}

// Basket holds the defaults used when a user has not stored a basket yet.
type Basket struct {
	SeedFile       string    `env:"BASKET_SEED_FILE" envDefault:"data/tornado.csv"`
	DefaultTickers []string  `env:"BASKET_DEFAULT_TICKERS" envDefault:"SBER,GAZP,LKOH"`
	DefaultShares  []int64   `env:"BASKET_DEFAULT_SHARES" envDefault:"10,20,12"`
	DefaultWeights []float64 `env:"BASKET_DEFAULT_WEIGHTS" envDefault:"25,50,25"`
	CurrencySymbol string    `env:"BASKET_CURRENCY_SYMBOL" envDefault:"₽"`
	StrictPrices   bool      `env:"BASKET_STRICT_PRICES" envDefault:"false"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
