package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bartossh/Timesheet/logger"
)

const (
	gcRuntimeTick = time.Minute * 5
	gcDiscard     = 0.5
)

// CreateBadgerDB returns a BadgerDB storage and runs the Garbage Collection concurrently.
// Empty path opens in memory database.
// To stop the storage and disconnect from database cancel the context or close the database.
func CreateBadgerDB(ctx context.Context, path string, l logger.Logger, detectConflicts bool) (*badger.DB, error) {
	var opt badger.Options
	switch path {
	case "":
		opt = badger.DefaultOptions("").WithInMemory(true)
	default:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		opt = badger.DefaultOptions(path)
	}
	opt = opt.WithDetectConflicts(detectConflicts).WithLogger(nil)

	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}

	go func(ctx context.Context) {
		ticker := time.NewTicker(gcRuntimeTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if db.IsClosed() {
					return
				}
				if err := db.Close(); err != nil {
					l.Error(fmt.Sprintf("badger DB close failure: %s", err))
				}
				return
			case <-ticker.C:
			}
			if path == "" {
				continue
			}
			err := db.RunValueLogGC(gcDiscard)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				l.Debug(fmt.Sprintf("badger DB garbage collection loop failure: %s", err))
			}
		}
	}(ctx)

	return db, nil
}
