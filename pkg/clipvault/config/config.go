// Package config assembles clipvault services from declarative settings.
// It is the composition layer used by the cmds: it knows how to turn a
// ServerConfig into a wired Service, Worker dependencies, or both.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/clipvault/clipvault/pkg/clipvault/mail"
	queuememory "github.com/clipvault/clipvault/pkg/clipvault/queue/memory"
	queuesqs "github.com/clipvault/clipvault/pkg/clipvault/queue/sqs"
	repomemory "github.com/clipvault/clipvault/pkg/clipvault/repo/memory"
	repopg "github.com/clipvault/clipvault/pkg/clipvault/repo/postgres"
	fsstorage "github.com/clipvault/clipvault/pkg/clipvault/storage/fs"
	memorystorage "github.com/clipvault/clipvault/pkg/clipvault/storage/memory"
	s3storage "github.com/clipvault/clipvault/pkg/clipvault/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		StorageType:  "memory",
		QueueType:    "memory",
		JWTSecret:    "",
		PartURLTTL:   time.Hour,
	}
}

// ServerConfig represents configuration shared by the coordinator and worker
// processes.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	StorageType string // "memory", "fs", "s3"
	FSBaseDir   string
	FSURLPrefix string
	S3          s3storage.Config

	// Queue configuration
	QueueType   string // "memory", "sqs"
	SQSQueueURL string

	// Auth
	JWTSecret string

	// Upload tuning
	PartURLTTL time.Duration

	// Mail (optional; empty host disables outbound mail)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Worker tuning
	ScratchDir        string
	MaxConcurrentJobs int
	ThumbnailCount    int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.StorageType {
	case "memory":
	case "fs":
		if c.FSBaseDir == "" {
			return errors.New("fs base dir is required when using fs storage")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when using s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}

	switch c.QueueType {
	case "memory":
	case "sqs":
		if c.SQSQueueURL == "" {
			return errors.New("sqs queue url is required when using sqs queue")
		}
	default:
		return fmt.Errorf("unsupported queue type: %s", c.QueueType)
	}

	return nil
}

// BuildService creates a Service instance from the server configuration.
func (c *ServerConfig) BuildService(log *slog.Logger) (clipvault.Service, error) {
	repo, err := c.BuildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.BuildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	queue, err := c.BuildJobQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to build job queue: %w", err)
	}

	options := []clipvault.Option{
		clipvault.WithRepository(repo),
		clipvault.WithBlobStore(store),
		clipvault.WithJobQueue(queue),
		clipvault.WithPartURLTTL(c.PartURLTTL),
	}
	if log != nil {
		options = append(options, clipvault.WithLogger(log))
	}

	mailer, err := c.BuildMailer()
	if err != nil {
		return nil, fmt.Errorf("failed to build mailer: %w", err)
	}
	options = append(options, clipvault.WithMailer(mailer))

	return clipvault.New(options...)
}

// BuildRepository creates a Repository based on the configuration.
func (c *ServerConfig) BuildRepository() (clipvault.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return repomemory.New(), nil
	case "postgres":
		pool, err := newPool(c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// BuildBlobStore creates a BlobStore based on the configuration.
func (c *ServerConfig) BuildBlobStore() (clipvault.BlobStore, error) {
	switch c.StorageType {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   c.FSBaseDir,
			URLPrefix: c.FSURLPrefix,
		})
	case "s3":
		return s3storage.New(c.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
}

// BuildJobQueue creates a JobQueue based on the configuration.
func (c *ServerConfig) BuildJobQueue() (clipvault.JobQueue, error) {
	switch c.QueueType {
	case "memory":
		return queuememory.New(), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return queuesqs.New(awssqs.NewFromConfig(awsCfg), queuesqs.Config{
			QueueURL: c.SQSQueueURL,
		})
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", c.QueueType)
	}
}

// BuildMailer creates a Mailer. With no SMTP host configured it returns the
// noop mailer, keeping share links usable without a mail relay.
func (c *ServerConfig) BuildMailer() (clipvault.Mailer, error) {
	if c.SMTPHost == "" {
		return clipvault.NewNoopMailer(), nil
	}
	return mail.New(mail.Config{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	})
}

func newPool(databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
