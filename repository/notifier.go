package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/bartossh/Timesheet/transition"
)

const (
	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = 30 * time.Second
)

const (
	channelEvents    = "events"
	tableTransitions = "transitions"
	actionInsert     = "INSERT"
)

type notification struct {
	Table  string `json:"table"`
	Action string `json:"action"`
	Data   struct {
		ID        string `json:"id"`
		CreatedAt int64  `json:"created_at"`
	} `json:"data"`
}

// Listener wraps listener for notifications from database.
// Provides methods for listening and closing.
type Listener struct {
	inner *pq.Listener
}

// Listen creates Listener for notifications about recorded transitions.
func Listen(cfg DBConfig, report func(ev pq.ListenerEventType, err error)) (Listener, error) {
	listener := pq.NewListener(connection(cfg), minReconnectInterval, maxReconnectInterval, report)
	err := listener.Listen(channelEvents)
	if err != nil {
		listener.Close()
		return Listener{}, errors.Join(ErrListenFailed, err)
	}
	return Listener{inner: listener}, nil
}

// SubscribeToRecorded sends ID of every transition recorded in the database, also by other processes.
// The channel is closed when the context is canceled.
func (l Listener) SubscribeToRecorded(ctx context.Context, c chan<- [32]byte) {
	go func(ctx context.Context, l *pq.Listener, c chan<- [32]byte) {
		defer close(c)
		for {
			select {
			case n := <-l.Notify:
				if n == nil {
					continue
				}
				id, ok := recorded(n.Extra)
				if !ok {
					continue
				}
				select {
				case c <- id:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}(ctx, l.inner, c)
}

// Close closes listener.
func (l Listener) Close() error {
	return l.inner.Close()
}

func recorded(extra string) ([32]byte, bool) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return [32]byte{}, false
	}
	if n.Table != tableTransitions || n.Action != actionInsert {
		return [32]byte{}, false
	}
	id, err := transition.ParseID(n.Data.ID)
	if err != nil {
		return [32]byte{}, false
	}
	return id, true
}
