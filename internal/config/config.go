package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"0"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:""`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:""`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:""`

	// SMS-PROSTO gateway
	SMSAPIURL      string  `envconfig:"SMS_API_URL" default:"http://api.sms-prosto.ru"`
	SMSAPIKey      string  `envconfig:"SMS_API_KEY" required:"true"`
	SMSSender      string  `envconfig:"SMS_SENDER" default:"ASU-MINENERGO"`
	SMSTimeoutSec  int     `envconfig:"SMS_TIMEOUT_SEC" default:"30"`
	SMSRPSPerPod   float64 `envconfig:"SMS_RPS_PER_POD" default:"5"`
	SMSBurst       int     `envconfig:"SMS_BURST" default:"10"`
	SMSBreakerTrip uint32  `envconfig:"SMS_BREAKER_TRIP" default:"10"`

	// Reconciliation scheduler. Exactly one instance per deployment may run
	// with SchedulerEnabled; duplicates would double promotion/polling work.
	SchedulerEnabled   bool `envconfig:"SCHEDULER_ENABLED" default:"true"`
	PromoteIntervalSec int  `envconfig:"PROMOTE_INTERVAL_SEC" default:"60"`
	ConfirmIntervalSec int  `envconfig:"CONFIRM_INTERVAL_SEC" default:"120"`
}

func LoadAPI() APIConfig {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
