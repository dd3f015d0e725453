package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct{ Env, Port, BaseURL string }
type DBCfg struct{ DSN string }
type RedisCfg struct{ Addr string }

type SecurityCfg struct {
	AdminToken string // guards admin trigger endpoints
}

type OrderingCfg struct {
	MaxFailoverAttempts int
	ProviderTimeout     time.Duration
}

type PollerCfg struct {
	Interval    time.Duration
	GracePeriod time.Duration
}

type ProviderCreds struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

type Cfg struct {
	App       AppCfg
	DB        DBCfg
	Redis     RedisCfg
	Sec       SecurityCfg
	Ordering  OrderingCfg
	Poller    PollerCfg
	Providers map[string]ProviderCreds // keyed by provider slug
}

func Load() Cfg {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetDefault("APP_ENV", "sandbox")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("MAX_FAILOVER_ATTEMPTS", 3)
	viper.SetDefault("PROVIDER_TIMEOUT_SEC", 30)
	viper.SetDefault("POLL_INTERVAL_SEC", 120)
	viper.SetDefault("POLL_GRACE_SEC", 300)
	viper.SetDefault("ADMIN_TOKEN", "")

	cfg := Cfg{
		App: AppCfg{
			Env:     viper.GetString("APP_ENV"),
			Port:    viper.GetString("APP_PORT"),
			BaseURL: viper.GetString("APP_BASE_URL"),
		},
		DB:    DBCfg{DSN: viper.GetString("DB_DSN")},
		Redis: RedisCfg{Addr: viper.GetString("REDIS_ADDR")},
		Sec: SecurityCfg{
			AdminToken: strings.TrimSpace(viper.GetString("ADMIN_TOKEN")),
		},
		Ordering: OrderingCfg{
			MaxFailoverAttempts: viper.GetInt("MAX_FAILOVER_ATTEMPTS"),
			ProviderTimeout:     time.Duration(viper.GetInt("PROVIDER_TIMEOUT_SEC")) * time.Second,
		},
		Poller: PollerCfg{
			Interval:    time.Duration(viper.GetInt("POLL_INTERVAL_SEC")) * time.Second,
			GracePeriod: time.Duration(viper.GetInt("POLL_GRACE_SEC")) * time.Second,
		},
		Providers: map[string]ProviderCreds{
			"esimaccess": {
				APIKey:    viper.GetString("ESIMACCESS_API_KEY"),
				APISecret: viper.GetString("ESIMACCESS_API_SECRET"),
				BaseURL:   viper.GetString("ESIMACCESS_BASE_URL"),
			},
			"esimgo": {
				APIKey:    viper.GetString("ESIMGO_API_KEY"),
				APISecret: viper.GetString("ESIMGO_API_SECRET"),
				BaseURL:   viper.GetString("ESIMGO_BASE_URL"),
			},
			"airhub": {
				APIKey:    viper.GetString("AIRHUB_API_KEY"),
				APISecret: viper.GetString("AIRHUB_API_SECRET"),
				BaseURL:   viper.GetString("AIRHUB_BASE_URL"),
			},
		},
	}

	if cfg.DB.DSN == "" {
		log.Fatal().Msg("DB_DSN is required")
	}
	if cfg.Ordering.MaxFailoverAttempts < 1 {
		log.Fatal().Msg("MAX_FAILOVER_ATTEMPTS must be at least 1")
	}
	return cfg
}
