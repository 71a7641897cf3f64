package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import the Postgres driver.
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/runboard-ai/runboard/internal/config"
)

const maxOpenConns = 48

const (
	cnxTpl = "postgres://%s:%s@%s:%s/%s?application_name=runboard-master"
	sslTpl = "&sslmode=%s&sslrootcert=%s"
)

// PgDB represents a Postgres database connection. The type definition is
// needed to define methods.
type PgDB struct {
	sql *sqlx.DB
}

var (
	theOneBun     *bun.DB
	theOneBunMu   sync.Mutex
	theOneBunOnce sync.Once
)

// Bun returns the singleton bun instance for structured queries. It panics if
// the database has not been connected yet.
func Bun() *bun.DB {
	theOneBunMu.Lock()
	defer theOneBunMu.Unlock()
	if theOneBun == nil {
		panic("database not yet initialized")
	}
	return theOneBun
}

func initTheOneBun(db *sql.DB) {
	theOneBunMu.Lock()
	defer theOneBunMu.Unlock()
	if theOneBun != nil {
		log.Warn("detected re-initialization of bun, this is unexpected outside of tests")
	}
	theOneBun = bun.NewDB(db, pgdialect.New())
}

// ConnectPostgres connects to a Postgres database, retrying while it comes up.
func ConnectPostgres(url string) (*PgDB, error) {
	numTries := 0
	for {
		sqlDB, err := sqlx.Connect("pgx", url)
		if err == nil {
			initTheOneBun(sqlDB.DB)
			return &PgDB{sql: sqlDB}, nil
		}
		numTries++
		if numTries >= 15 {
			return nil, errors.Wrapf(err, "could not connect to database after %v tries", numTries)
		}
		toWait := 4 * time.Second
		time.Sleep(toWait)
		log.WithError(err).Warnf("failed to connect to postgres, trying again in %s", toWait)
	}
}

// Connect connects to the database described by the given configuration.
func Connect(opts *config.DBConfig) (*PgDB, error) {
	dbURL := fmt.Sprintf(cnxTpl, opts.User, opts.Password, opts.Host, opts.Port, opts.Name)
	dbURL += fmt.Sprintf(sslTpl, opts.SSLMode, opts.SSLRootCert)
	log.Infof("connecting to database %s:%s", opts.Host, opts.Port)
	db, err := ConnectPostgres(dbURL)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to database: %s:%s", opts.Host, opts.Port)
	}

	db.sql.SetMaxOpenConns(maxOpenConns)
	return db, nil
}

// Close closes the underlying connection pool.
func (db *PgDB) Close() error {
	return db.sql.Close()
}
