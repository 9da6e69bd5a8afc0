package repository

import (
	"context"
	"errors"
	"fmt"

	"database/sql"

	_ "github.com/lib/pq"

	"github.com/bartossh/Timesheet/transition"
)

var (
	ErrInsertFailed    = fmt.Errorf("insert failed")
	ErrUpdateFailed    = fmt.Errorf("update failed")
	ErrSelectFailed    = fmt.Errorf("select failed")
	ErrScanFailed      = fmt.Errorf("scan failed")
	ErrUnmarshalFailed = fmt.Errorf("unmarshal failed")
	ErrCommitFailed    = fmt.Errorf("transaction commit failed")
	ErrTrxBeginFailed  = fmt.Errorf("transaction begin failed")
	ErrListenFailed    = fmt.Errorf("listen failed")
	ErrMigrationFailed = fmt.Errorf("migration failed")
)

// Config contains configuration for the database.
type DBConfig struct {
	ConnStr      string `yaml:"conn_str"`      // ConnStr is the connection string to the database.
	DatabaseName string `yaml:"database_name"` // DatabaseName is the name of the database.
	IsSSL        bool   `yaml:"is_ssl"`        // IsSSL is the flag that indicates if the connection should be encrypted.
}

// Database provides the party vault kept in PostgreSQL.
type DataBase struct {
	inner    *sql.DB
	verifier transition.Verifier
}

// Connect creates new connection to the repository, runs the schema migration and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg DBConfig, v transition.Verifier) (*DataBase, error) {
	db, err := sql.Open("postgres", connection(cfg))
	if err != nil {
		return nil, err
	}
	repo := &DataBase{inner: db, verifier: v}
	if err := repo.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := repo.RunMigration(ctx); err != nil {
		db.Close()
		return nil, errors.Join(ErrMigrationFailed, err)
	}
	return repo, nil
}

// Disconnect disconnects user from database
func (db DataBase) Disconnect(ctx context.Context) error {
	return db.inner.Close()
}

// Ping checks if the connection to the database is still alive.
func (db DataBase) Ping(ctx context.Context) error {
	return db.inner.PingContext(ctx)
}

func connection(cfg DBConfig) string {
	sslMode := "sslmode=disable"
	if cfg.IsSSL {
		sslMode = "sslmode=require"
	}
	return fmt.Sprintf("%s/%s?%s", cfg.ConnStr, cfg.DatabaseName, sslMode)
}
