package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

const connectTimeout = 5 * time.Second

// DSN renders the lib/pq connection string for this configuration.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

func (c Config) logAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("driver", "postgres"),
		slog.String("host", c.Host),
		slog.String("port", c.Port),
		slog.String("db", c.Name),
	}
}

// Connect opens the session database, sizes the pool, and verifies
// connectivity before returning the handle.
func Connect(cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	took := logger.Took(start)
	if err != nil {
		attrs := append(cfg.logAttrs(),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		logger.DB.LogAttrs(ctx, slog.LevelError, "db connect failed",
			append([]slog.Attr{slog.String("event", "db.connect")}, attrs...)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(5 * time.Minute)

	attrs := append(cfg.logAttrs(),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", took),
	)
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "db connected",
		append([]slog.Attr{slog.String("event", "db.connect")}, attrs...)...)

	return db, nil
}

// WaitForPostgres polls until the database accepts connections or the
// timeout elapses. Used before migrations when the container and the
// database start together.
func WaitForPostgres(dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		db, err := sql.Open("postgres", dsn)
		if err == nil {
			err = db.Ping()
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		}
		time.Sleep(2 * time.Second)
	}
}
