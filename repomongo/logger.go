package repomongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bartossh/Timesheet/logger"
)

const logWriteTimeout = time.Second * 5

// Write stores the log in the logs collection so the DataBase can be one of the logging writers.
// p is a marshaled logger.Log, the log keeps the ID given by the logging helper.
func (db DataBase) Write(p []byte) (n int, err error) {
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return 0, err
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()
	if _, err := db.inner.Collection(logsCollection).InsertOne(ctx, l); err != nil {
		return 0, err
	}
	return len(p), nil
}
