package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/soaringjerry/Mindwell/internal/utils"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Addr          string
	Store         string
	SnapshotPath  string
	SQLitePath    string
	MigrationsDir string
	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HistoryTTL    time.Duration

	RabbitMQURI      string
	RabbitMQExchange string

	JWTSecret    string
	TokenTTL     time.Duration
	AutosaveWait time.Duration
	VariantsDir  string

	AIBaseURL string
	AIKey     string
	AIModel   string

	StaticDir      string
	DevFrontendURL string
	CORSOrigins    []string
	Commit         string
	BuildTime      string
}

// Load reads an optional .env file (files are tried in order, default
// ".env") and then the MINDWELL_* environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		log.Printf("config: loaded %s", f)
	}

	cfg := &Config{
		Addr:          utils.SafeEnv("MINDWELL_ADDR", ":8080"),
		Store:         strings.ToLower(utils.SafeEnv("MINDWELL_STORE", StoreMemory)),
		SnapshotPath:  utils.SafeEnv("MINDWELL_SNAPSHOT_PATH", ""),
		SQLitePath:    utils.SafeEnv("MINDWELL_SQLITE_PATH", "data/mindwell.db"),
		MigrationsDir: utils.SafeEnv("MINDWELL_MIGRATIONS_DIR", ""),
		MongoURI:      utils.SafeEnv("MINDWELL_MONGO_URI", ""),
		MongoDatabase: utils.SafeEnv("MINDWELL_MONGO_DATABASE", "mindwell"),

		RedisAddr:     utils.SafeEnv("MINDWELL_REDIS_ADDR", ""),
		RedisPassword: utils.SafeEnv("MINDWELL_REDIS_PASSWORD", ""),
		RedisDB:       utils.EnvInt("MINDWELL_REDIS_DB", 0),
		HistoryTTL:    utils.EnvDuration("MINDWELL_HISTORY_TTL", 10*time.Minute),

		RabbitMQURI:      utils.SafeEnv("MINDWELL_RABBITMQ_URI", ""),
		RabbitMQExchange: utils.SafeEnv("MINDWELL_RABBITMQ_EXCHANGE", "assessment.events"),

		JWTSecret:    utils.SafeEnv("MINDWELL_JWT_SECRET", ""),
		TokenTTL:     utils.EnvDuration("MINDWELL_TOKEN_TTL", 24*time.Hour),
		AutosaveWait: utils.EnvDuration("MINDWELL_AUTOSAVE_DELAY", 800*time.Millisecond),
		VariantsDir:  utils.SafeEnv("MINDWELL_VARIANTS_DIR", ""),

		AIBaseURL: utils.SafeEnv("MINDWELL_AI_BASE", ""),
		AIKey:     utils.SafeEnv("MINDWELL_AI_KEY", ""),
		AIModel:   utils.SafeEnv("MINDWELL_AI_MODEL", ""),

		StaticDir:      utils.SafeEnv("MINDWELL_STATIC_DIR", ""),
		DevFrontendURL: utils.SafeEnv("MINDWELL_DEV_FRONTEND_URL", ""),
		CORSOrigins:    splitList(utils.SafeEnv("MINDWELL_CORS_ORIGINS", "")),
		Commit:         utils.SafeEnv("MINDWELL_COMMIT", ""),
		BuildTime:      utils.SafeEnv("MINDWELL_BUILD_TIME", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("MINDWELL_SQLITE_PATH is required for the sqlite store")
		}
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return errors.New("MINDWELL_MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown MINDWELL_STORE %q (want memory, sqlite or mongo)", c.Store)
	}
	if c.AutosaveWait < 0 {
		return errors.New("MINDWELL_AUTOSAVE_DELAY must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
