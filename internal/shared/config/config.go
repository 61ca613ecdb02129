package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds application configuration.
type Config struct {
	Port               string        `env:"PORT" env-default:"8080"`
	Env                string        `env:"ENV" env-default:"dev"`
	CORSAllowOrigin    []string      `env:"CORS_ALLOW_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`
	ObjectStoreType    string        `env:"OBJECT_STORE" env-default:"local"`
	LocalStoreDir      string        `env:"LOCAL_STORE_DIR" env-default:"./data"`
	MetadataStore      string        `env:"METADATA_STORE" env-default:"memory"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	AWSRegion          string        `env:"AWS_REGION" env-default:"us-east-1"`
	S3Bucket           string        `env:"AWS_BUCKET_NAME"`
	S3Prefix           string        `env:"S3_PREFIX"`
	S3Endpoint         string        `env:"S3_ENDPOINT"`
	SSEKMSKeyID        string        `env:"SSE_KMS_KEY_ID"`
	S3AccessKeyID      string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey  string        `env:"S3_SECRET_ACCESS_KEY"`
	S3DisableSSE       bool          `env:"S3_DISABLE_SSE" env-default:"false"`
	DynamoUserTable    string        `env:"DYNAMO_USER_TABLE" env-default:"Users"`
	DynamoFileTable    string        `env:"DYNAMO_FILE_TABLE" env-default:"Files"`
	DynamoEndpoint     string        `env:"DYNAMO_ENDPOINT"`
	JWTSecret          string        `env:"JWT_SECRET"`
	CredentialTTL      time.Duration `env:"CREDENTIAL_TTL" env-default:"1h"`
	BlobURLSecret      string        `env:"BLOB_URL_SECRET"`
	CleanupQueueURL    string        `env:"CLEANUP_SQS_QUEUE_URL"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" env-default:"4"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	ReconcileGrace     time.Duration `env:"RECONCILE_GRACE" env-default:"24h"`
	LoginRatePerMin    float64       `env:"LOGIN_RATE_PER_MINUTE" env-default:"10"`
	LoginBurst         int           `env:"LOGIN_RATE_BURST" env-default:"5"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	UIRedirectURL      string        `env:"UI_REDIRECT_URL"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	var cfg Config

	// Best-effort load of local env files for dev convenience.
	for _, path := range []string{".env", "cmd/.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Printf("config: read env: %v", err)
	}

	return Normalize(cfg)
}

// Normalize canonicalizes enum-like fields and fills derived values.
func Normalize(cfg Config) Config {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ObjectStoreType = normalizeStoreType(cfg.ObjectStoreType)
	cfg.MetadataStore = normalizeMetadataStore(cfg.MetadataStore, cfg.DatabaseURL)
	cfg.CORSAllowOrigin = splitAndTrim(strings.Join(cfg.CORSAllowOrigin, ","))
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if strings.TrimSpace(cfg.BlobURLSecret) == "" {
		cfg.BlobURLSecret = cfg.JWTSecret
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = time.Hour
	}
	if cfg.Env == "production" && strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Printf("JWT_SECRET is required in production")
	}
	return cfg
}

// IsDevLike reports whether the environment tolerates insecure fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeMetadataStore(raw, databaseURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dynamodb", "dynamo":
		return "dynamodb"
	case "postgres", "pg":
		return "postgres"
	case "memory":
		if strings.TrimSpace(databaseURL) != "" {
			return "postgres"
		}
		return "memory"
	default:
		return "memory"
	}
}
