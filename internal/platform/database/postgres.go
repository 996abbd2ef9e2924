package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// NewPostgresDB connects with a bounded retry loop so the service survives
// the database coming up after it.
func NewPostgresDB(cfg Config, log *slog.Logger) (*sql.DB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	var db *sql.DB
	var err error
	maxRetries := 10

	for i := 1; i <= maxRetries; i++ {
		log.Info("connecting to database", "attempt", i, "max", maxRetries)
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
		}

		if err == nil {
			log.Info("database connected")
			return db, nil
		}

		log.Warn("database not ready, waiting", "err", err)
		time.Sleep(2 * time.Second)
	}

	return nil, fmt.Errorf("connect database: %w", err)
}
