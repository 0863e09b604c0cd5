package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"alertbox/pkg/upload"
)

// Config is read from the environment once at startup.
type Config struct {
	DBDSN         string `env:"DB_DSN"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE,default=true"`

	DefaultUserID    int    `env:"DEFAULT_USER_ID,default=1"`
	AllowedMimeTypes string `env:"ALLOWED_MIME_TYPES,default=application/pdf"`
	UploadDirectory  string `env:"UPLOAD_DIRECTORY,default=uploaded_files"`
	MaxFilesAllowed  int    `env:"MAX_FILES_ALLOWED,default=3"`
	MaxFileSize      int    `env:"MAX_FILE_SIZE,default=5242880"`
	MaxUploadFiles   int    `env:"MAX_UPLOAD_FILES,default=3"`
	VerifyContent    bool   `env:"VERIFY_CONTENT_TYPE,default=true"`

	ServerPort       int    `env:"SERVER_PORT,default=8081"`
	CORSOrigin       string `env:"CORS_ORIGIN,default=http://localhost:3000"`
	TxTimeoutSeconds int    `env:"TX_TIMEOUT_SECONDS,default=30"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
	Debug    bool   `env:"DEBUG,default=false"`
}

// loadConfig reads ./.env when present, without overriding variables that are
// already set, then unmarshals the environment into a Config.
func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DefaultUserID <= 0:
		return errors.New("DEFAULT_USER_ID must be a positive integer")
	case c.MaxFilesAllowed <= 0:
		return errors.New("MAX_FILES_ALLOWED must be a positive integer")
	case c.MaxUploadFiles <= 0:
		return errors.New("MAX_UPLOAD_FILES must be a positive integer")
	case c.MaxFileSize <= 0:
		return errors.New("MAX_FILE_SIZE must be a positive integer")
	case c.TxTimeoutSeconds <= 0:
		return errors.New("TX_TIMEOUT_SECONDS must be a positive integer")
	case c.ServerPort < 1 || c.ServerPort > 65535:
		return fmt.Errorf("SERVER_PORT %d is out of range", c.ServerPort)
	case strings.TrimSpace(c.UploadDirectory) == "":
		return errors.New("UPLOAD_DIRECTORY must not be empty")
	case len(c.allowedTypes()) == 0:
		return errors.New("ALLOWED_MIME_TYPES must list at least one type")
	}
	return nil
}

// requireDSN is checked by the commands that open the database.
func (c *Config) requireDSN() error {
	if c.DBDSN == "" {
		return errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	return nil
}

func (c *Config) allowedTypes() []string {
	var out []string
	for _, t := range strings.Split(c.AllowedMimeTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (c *Config) uploadConfig() upload.Config {
	return upload.Config{
		Dir:           c.UploadDirectory,
		MaxFileSize:   int64(c.MaxFileSize),
		MaxFiles:      c.MaxUploadFiles,
		AllowedTypes:  c.allowedTypes(),
		VerifyContent: c.VerifyContent,
	}
}

func (c *Config) txTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

func (c *Config) addr() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}
