package repomongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bartossh/Timesheet/transition"
)

const (
	transitionsCollection = "transitions"
	statesCollection      = "states"
	logsCollection        = "logs"
)

var (
	ErrInsertFailed    = errors.New("insert failed")
	ErrUpdateFailed    = errors.New("update failed")
	ErrSelectFailed    = errors.New("select failed")
	ErrUnmarshalFailed = errors.New("unmarshal failed")
	ErrMigrationFailed = errors.New("migration failed")
)

// Config contains configuration for the database.
type Config struct {
	ConnStr      string `yaml:"conn_str"`      // ConnStr is the connection string to the database.
	DatabaseName string `yaml:"database_name"` // DatabaseName is the name of the database.
}

// Database provides the party vault kept in MongoDB.
type DataBase struct {
	inner    mongo.Database
	verifier transition.Verifier
}

// Connect creates new connection to the repository, creates indexes and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg Config, v transition.Verifier) (*DataBase, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnStr))
	if err != nil {
		return nil, err
	}

	ctxx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := cli.Ping(ctxx, readpref.Primary()); err != nil {
		cli.Disconnect(ctx)
		return nil, err
	}

	db := &DataBase{inner: *cli.Database(cfg.DatabaseName), verifier: v}
	if err := db.RunMigration(ctx); err != nil {
		cli.Disconnect(ctx)
		return nil, errors.Join(ErrMigrationFailed, err)
	}
	return db, nil
}

// RunMigration creates the indexes the vault queries rely on.
func (db DataBase) RunMigration(ctx context.Context) error {
	_, err := db.inner.Collection(statesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "consumed", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "linear_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = db.inner.Collection(transitionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	return err
}

// Ping checks if the connection to the database is still alive.
func (db DataBase) Ping(ctx context.Context) error {
	return db.inner.Client().Ping(ctx, readpref.Primary())
}

// Disconnect disconnects user from database
func (db DataBase) Disconnect(ctx context.Context) error {
	return db.inner.Client().Disconnect(ctx)
}
