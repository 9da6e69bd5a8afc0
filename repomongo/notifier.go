package repomongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bartossh/Timesheet/transition"
)

// SubscribeToRecorded sends ID of every transition recorded after the subscription, also by other processes.
// This is polling subscriber, it isn't using change stream as this requires replica set.
// The channel is closed when the context is canceled.
func (db DataBase) SubscribeToRecorded(ctx context.Context, c chan<- [32]byte, interval time.Duration) {
	go func(ctx context.Context, c chan<- [32]byte) {
		defer close(c)
		since := time.Now().UnixMicro()
		tc := time.NewTicker(interval)
		defer tc.Stop()
		opts := options.Find().SetSort(bson.M{"created_at": 1}).SetProjection(bson.M{"data": 0})
		for {
			select {
			case <-ctx.Done():
				return
			case <-tc.C:
				cur, err := db.inner.Collection(transitionsCollection).Find(ctx, bson.M{"created_at": bson.M{"$gte": since}}, opts)
				if err != nil {
					continue
				}
				var docs []transitionDocument
				err = cur.All(ctx, &docs)
				if err != nil {
					continue
				}
				for _, d := range docs {
					since = d.CreatedAt + 1
					id, err := transition.ParseID(d.ID)
					if err != nil {
						continue
					}
					select {
					case c <- id:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}(ctx, c)
}
