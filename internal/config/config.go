package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppPort string
	AppEnv  string

	StoreDriver string
	DBDSN       string

	JWTSecret     string
	JWTExpiresMin int
	SessionMode   string
	AutoProvision bool

	IDPURL        string
	IDPAnonKey    string
	IDPServiceKey string
	IDPJWTSecret  string

	CORSOrigins     []string
	FrontendBaseURL string

	GoogleClientID string
	GoogleSecret   string
	GoogleRedirect string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL   string
	AMQPQueue string

	KafkaBroker string
	KafkaTopic  string

	NotifySinks     []string
	NotifyQueueSize int

	RequestTimeout time.Duration
	ChatSyncSecret string
	LogLevel       string
}

const (
	SessionLocal     = "local"
	SessionFederated = "federated"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

func Load() Config {
	expires := positive("JWT_EXPIRES_MIN", 10080)
	redisDB := getInt("REDIS_DB", 0)
	queueSize := positive("NOTIFY_QUEUE_SIZE", 256)
	timeoutSec := positive("REQUEST_TIMEOUT_SEC", 10)

	cfg := Config{
		AppPort:         get("APP_PORT", "8080"),
		AppEnv:          strings.ToLower(get("APP_ENV", "development")),
		StoreDriver:     strings.ToLower(get("STORE_DRIVER", StorePostgres)),
		JWTSecret:       must("JWT_SECRET"),
		JWTExpiresMin:   expires,
		SessionMode:     strings.ToLower(get("SESSION_MODE", SessionLocal)),
		AutoProvision:   get("AUTO_PROVISION", "false") == "true",
		IDPURL:          strings.TrimRight(get("IDP_URL", ""), "/"),
		IDPAnonKey:      get("IDP_ANON_KEY", ""),
		IDPServiceKey:   get("IDP_SERVICE_KEY", ""),
		IDPJWTSecret:    get("IDP_JWT_SECRET", ""),
		CORSOrigins:     splitList(get("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		FrontendBaseURL: strings.TrimRight(get("FRONTEND_BASE_URL", "http://localhost:3000"), "/"),
		GoogleClientID:  get("GOOGLE_CLIENT_ID", ""),
		GoogleSecret:    get("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirect:  get("GOOGLE_REDIRECT_URL", ""),
		RedisAddr:       get("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   get("REDIS_PASSWORD", ""),
		RedisDB:         redisDB,
		AMQPURL:         get("AMQP_URL", ""),
		AMQPQueue:       get("AMQP_QUEUE", "kazilink.notifications"),
		KafkaBroker:     get("KAFKA_BROKER", ""),
		KafkaTopic:      get("KAFKA_TOPIC", "kazilink.notifications"),
		NotifySinks:     splitList(get("NOTIFY_SINKS", "hub,redis")),
		NotifyQueueSize: queueSize,
		RequestTimeout:  time.Duration(timeoutSec) * time.Second,
		ChatSyncSecret:  get("CHATSYNC_SECRET", ""),
		LogLevel:        get("LOG_LEVEL", "INFO"),
	}

	if cfg.StoreDriver == StorePostgres {
		cfg.DBDSN = must("DB_DSN")
	}
	if cfg.SessionMode != SessionFederated {
		cfg.SessionMode = SessionLocal
	}
	return cfg
}

// Production reports whether cookies must be Secure and SameSite=Strict.
func (c Config) Production() bool {
	return c.AppEnv == "production"
}

func (c Config) SinkEnabled(name string) bool {
	for _, s := range c.NotifySinks {
		if s == name {
			return true
		}
	}
	return false
}

// getInt falls back to def when the value is unset or not a number.
func getInt(k string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return n
}

func positive(k string, def int) int {
	if n := getInt(k, def); n > 0 {
		return n
	}
	return def
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
