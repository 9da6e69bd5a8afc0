package notary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
)

const (
	submitTelemetryHistogram = "notary_submit_duration"
	committedTelemetryCount  = "notary_committed_total"
	conflictTelemetryCount   = "notary_conflicts_total"
)

const (
	consumedPrefix  = "consumed:"
	committedPrefix = "committed:"
)

var (
	ErrSequencingConflict = errors.New("sequencing conflict, state already consumed")
	ErrWrongNotary        = errors.New("transition is assigned to another notary")
	ErrUnknownInput       = errors.New("consumed state was not committed by this notary")
	ErrNotCommitted       = errors.New("transition is not committed")
	ErrUnexpected         = errors.New("unexpected notary failure")
)

// Receipt proves the transition was committed by the notary.
type Receipt struct {
	TransitionID [32]byte             `json:"transition_id" msgpack:"transition_id"`
	Signature    transition.Signature `json:"signature"     msgpack:"signature"`
}

type committed struct {
	Receipt    Receipt `msgpack:"receipt"`
	Transition []byte  `msgpack:"transition"`
}

// Notary orders transitions and prevents a state from being consumed twice.
// It does not decide if a transition is valid, parties do that before they sign.
type Notary struct {
	mux      sync.Mutex
	db       *badger.DB
	signer   transition.Signer
	verifier transition.Verifier
	tele     *telemetry.Measurements
	log      logger.Logger
}

// New creates Notary keeping its index in the db.
func New(db *badger.DB, signer transition.Signer, v transition.Verifier, tele *telemetry.Measurements, log logger.Logger) *Notary {
	tele.CreateUpdateObservableHistogtram(submitTelemetryHistogram, "Notary submit duration in [ us ].")
	tele.CreateUpdateObservableCounter(committedTelemetryCount, "Number of committed transitions.")
	tele.CreateUpdateObservableCounter(conflictTelemetryCount, "Number of transitions rejected for consuming spent states.")
	return &Notary{db: db, signer: signer, verifier: v, tele: tele, log: log}
}

// Address returns notary address.
func (n *Notary) Address() string {
	return n.signer.Address()
}

// Submit commits fully signed transition and attaches the notary signature to it.
// Resubmitting committed transition returns the stored receipt and changes nothing.
func (n *Notary) Submit(ctx context.Context, tx *transition.Transition) (Receipt, error) {
	t := time.Now()
	defer func() { n.tele.RecordHistogramTime(submitTelemetryHistogram, time.Since(t)) }()

	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if tx.Notary != n.Address() {
		return Receipt{}, fmt.Errorf("%w: %s", ErrWrongNotary, tx.Notary)
	}
	id, err := tx.ID()
	if err != nil {
		return Receipt{}, err
	}

	n.mux.Lock()
	defer n.mux.Unlock()

	c, err := n.read(id)
	switch {
	case err == nil:
		n.log.Info(fmt.Sprintf("notary received already committed transition [ %s ]", transition.Hex(id)))
		if err := tx.AddSignature(c.Receipt.Signature, n.verifier); err != nil {
			return Receipt{}, err
		}
		return c.Receipt, nil
	case !errors.Is(err, ErrNotCommitted):
		return Receipt{}, err
	}

	if err := tx.VerifySignatures(n.verifier, n.Address()); err != nil {
		return Receipt{}, err
	}
	if err := n.checkInputs(tx); err != nil {
		return Receipt{}, err
	}

	digest, signature := n.signer.Sign(id[:])
	sig := transition.Signature{By: n.Address(), Digest: digest, Signature: signature}
	receipt := Receipt{TransitionID: id, Signature: sig}
	signed := *tx
	signed.Signatures = append(append([]transition.Signature{}, tx.Signatures...), sig)
	raw, err := signed.Encode()
	if err != nil {
		return Receipt{}, err
	}
	buf, err := serializer.Marshal(committed{Receipt: receipt, Transition: raw})
	if err != nil {
		return Receipt{}, err
	}

	err = n.db.Update(func(txn *badger.Txn) error {
		for _, in := range tx.Inputs {
			key := consumedKey(in.Ref)
			item, err := txn.Get(key)
			switch {
			case err == nil:
				by, _ := item.ValueCopy(nil)
				var spender [32]byte
				copy(spender[:], by)
				return fmt.Errorf("%w: state %s consumed by transition %s", ErrSequencingConflict, in.Ref, transition.Hex(spender))
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			if err := txn.Set(key, id[:]); err != nil {
				return err
			}
		}
		return txn.Set(committedKey(id), buf)
	})
	if err != nil {
		if errors.Is(err, ErrSequencingConflict) {
			n.tele.IncrementCounter(conflictTelemetryCount)
			n.log.Warn(fmt.Sprintf("notary rejected transition [ %s ]: %s", transition.Hex(id), err))
			return Receipt{}, err
		}
		n.log.Error(fmt.Sprintf("notary failed to commit transition [ %s ]: %s", transition.Hex(id), err))
		return Receipt{}, errors.Join(ErrUnexpected, err)
	}

	if err := tx.AddSignature(sig, n.verifier); err != nil {
		return Receipt{}, err
	}
	n.tele.IncrementCounter(committedTelemetryCount)
	n.log.Info(fmt.Sprintf("notary committed transition [ %s ] consuming %d states", transition.Hex(id), len(tx.Inputs)))
	return receipt, nil
}

// checkInputs verifies every consumed state is the output it references.
func (n *Notary) checkInputs(tx *transition.Transition) error {
	for _, in := range tx.Inputs {
		c, err := n.read(in.Ref.TransitionID)
		if err != nil {
			if errors.Is(err, ErrNotCommitted) {
				return fmt.Errorf("%w: %s", ErrUnknownInput, in.Ref)
			}
			return err
		}
		producer, err := transition.Decode(c.Transition)
		if err != nil {
			return errors.Join(ErrUnexpected, err)
		}
		if int(in.Ref.Index) >= len(producer.Outputs) {
			return fmt.Errorf("%w: %s", ErrUnknownInput, in.Ref)
		}
		want, err := serializer.Marshal(producer.Outputs[in.Ref.Index])
		if err != nil {
			return err
		}
		got, err := serializer.Marshal(in.State)
		if err != nil {
			return err
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("%w: state at %s differs from the committed one", ErrUnknownInput, in.Ref)
		}
	}
	return nil
}

// Committed returns the receipt of the committed transition.
func (n *Notary) Committed(ctx context.Context, id [32]byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	c, err := n.read(id)
	if err != nil {
		return Receipt{}, err
	}
	return c.Receipt, nil
}

// Transition returns the committed transition carrying the notary signature.
func (n *Notary) Transition(ctx context.Context, id [32]byte) (transition.Transition, error) {
	if err := ctx.Err(); err != nil {
		return transition.Transition{}, err
	}
	c, err := n.read(id)
	if err != nil {
		return transition.Transition{}, err
	}
	return transition.Decode(c.Transition)
}

func (n *Notary) read(id [32]byte) (committed, error) {
	var c committed
	err := n.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(committedKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return serializer.Unmarshal(v, &c)
		})
	})
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return committed{}, ErrNotCommitted
	default:
		n.log.Error(fmt.Sprintf("notary failed to read transition [ %s ]: %s", transition.Hex(id), err))
		return committed{}, errors.Join(ErrUnexpected, err)
	}
}

func consumedKey(ref transition.StateRef) []byte {
	return append([]byte(consumedPrefix), ref.Key()...)
}

func committedKey(id [32]byte) []byte {
	return append([]byte(committedPrefix), id[:]...)
}
