package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// ServiceConfig holds the settings of the email identity service itself.
type ServiceConfig struct {
	BaseUrl         string `env:"BASE_URL" env-default:"http://localhost:4000"`
	APIPrefix       string `env:"EMAIL_API_PREFIX" env-default:"/api/email"`
	PersistenceType string `env:"PERSISTENCE_TYPE" env-default:"postgres"`
	DataDir         string `env:"DATA_DIR" env-default:"./data"`
	MetricsEnabled  bool   `env:"METRICS_ENABLED" env-default:"true"`
}

// JwtConfig configures verification of caller access tokens.
type JwtConfig struct {
	JwtSecret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer    string `env:"JWT_ISSUER" env-default:"simple-idm"`
}

// Config is the full environment-driven configuration.
type Config struct {
	Service      ServiceConfig
	Database     DatabaseConfig
	Email        EmailConfig
	Verification VerificationConfig
	Fraud        FraudConfig
	RateLimit    RateLimitConfig
	Jwt          JwtConfig
}

// Load reads the .env file (if any) and then the process environment into a Config.
func Load() (Config, error) {
	LoadEnvFile()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and reports all problems together.
func (c Config) Validate() error {
	return Validate(
		func() ValidationErrors {
			errs := CollectErrors(
				RequireValidURL("BASE_URL", c.Service.BaseUrl),
				RequireNonEmpty("EMAIL_API_PREFIX", c.Service.APIPrefix),
				RequireOneOf("PERSISTENCE_TYPE", c.Service.PersistenceType,
					[]string{"postgres", "postgresql", "memory", "inmem", "file"}),
				RequireMinLength("JWT_SECRET", c.Jwt.JwtSecret, 16),
			)
			if c.Service.PersistenceType == "file" {
				errs = append(errs, CollectErrors(RequireNonEmpty("DATA_DIR", c.Service.DataDir))...)
			}
			return errs
		},
		func() ValidationErrors {
			if c.Service.PersistenceType != "postgres" && c.Service.PersistenceType != "postgresql" {
				return nil
			}
			return c.Database.validate()
		},
		c.Email.validate,
		c.RateLimit.validate,
		func() ValidationErrors {
			if _, err := c.Verification.Settings(); err != nil {
				if ve, ok := err.(ValidationErrors); ok {
					return ve
				}
				return ValidationErrors{{Field: "verification", Message: err.Error()}}
			}
			return nil
		},
		func() ValidationErrors {
			if _, _, err := c.Fraud.Durations(); err != nil {
				return err.(ValidationErrors)
			}
			return CollectErrors(RequirePositive("FRAUD_SCAN_LIMIT", c.Fraud.ScanLimit))
		},
	)
}

// LoadEnvFile loads a .env file next to the executable or in the working directory.
// Variables already present in the environment win.
func LoadEnvFile() {
	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		slog.Info("Loading configuration from .env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			slog.Error("Failed to load .env file", "error", err, "path", envFile)
		}
		return
	}
	slog.Debug("No .env file found")
}
