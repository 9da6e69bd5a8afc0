package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bartossh/Timesheet/serializer"
)

var ErrNotFound = errors.New("checkpoint not found")

const runPrefix = "run:"

// Record is the persisted progress of a protocol run.
type Record struct {
	RunID      string    `json:"run_id"               msgpack:"run_id"`
	Protocol   string    `json:"protocol"             msgpack:"protocol"`
	Role       string    `json:"role"                 msgpack:"role"`
	State      string    `json:"state"                msgpack:"state"`
	Peer       string    `json:"peer"                 msgpack:"peer"`
	Input      []byte    `json:"input,omitempty"      msgpack:"input,omitempty"`
	Transition []byte    `json:"transition,omitempty" msgpack:"transition,omitempty"`
	Err        string    `json:"err,omitempty"        msgpack:"err,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"           msgpack:"updated_at"`
}

// Store persists run records.
type Store interface {
	Save(ctx context.Context, r Record) error
	Load(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, runID string) error
}

// Badger keeps run records in the badger database.
type Badger struct {
	db *badger.DB
}

// NewBadger creates Store on top of the badger database.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// Save writes the record overriding previous record of the run.
func (b *Badger) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := serializer.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(r.RunID), raw)
	})
}

// Load reads the record of the run.
func (b *Badger) Load(ctx context.Context, runID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var r Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(runID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return serializer.Unmarshal(v, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// List reads every record, last updated first.
func (b *Badger) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r Record
			err := it.Item().Value(func(v []byte) error {
				return serializer.Unmarshal(v, &r)
			})
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// Delete removes the record of the run.
func (b *Badger) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(runID))
	})
}

// Memory keeps run records in memory.
type Memory struct {
	mux     sync.RWMutex
	records map[string]Record
}

// NewMemory creates empty in memory Store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Save writes the record overriding previous record of the run.
func (m *Memory) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	r.Input = append([]byte(nil), r.Input...)
	r.Transition = append([]byte(nil), r.Transition...)
	m.records[r.RunID] = r
	return nil
}

// Load reads the record of the run.
func (m *Memory) Load(ctx context.Context, runID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	r, ok := m.records[runID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// List reads every record, last updated first.
func (m *Memory) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mux.RLock()
	records := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mux.RUnlock()
	sortRecords(records)
	return records, nil
}

// Delete removes the record of the run.
func (m *Memory) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.records, runID)
	return nil
}

func key(runID string) []byte {
	return []byte(runPrefix + runID)
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].RunID < records[j].RunID
		}
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
}
