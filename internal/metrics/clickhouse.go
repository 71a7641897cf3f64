package metrics

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runboard-ai/runboard/internal/config"
)

// Store issues aggregate queries against the columnar metric-summary table.
type Store struct {
	conn driver.Conn
}

// New wraps an existing ClickHouse connection.
func New(conn driver.Conn) *Store {
	return &Store{conn: conn}
}

// Connect opens a ClickHouse connection from configuration and pings it.
func Connect(ctx context.Context, cfg *config.ClickHouseConfig) (*Store, error) {
	log.Infof("connecting to clickhouse at %s", cfg.Addr)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening clickhouse connection to %s", cfg.Addr)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrapf(err, "pinging clickhouse at %s", cfg.Addr)
	}
	return New(conn), nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
