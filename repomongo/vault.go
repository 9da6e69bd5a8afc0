package repomongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/vault"
)

type transitionDocument struct {
	ID        string `bson:"_id"`
	Data      []byte `bson:"data"`
	CreatedAt int64  `bson:"created_at"`
}

type stateDocument struct {
	Ref          string `bson:"_id"`
	TransitionID string `bson:"transition_id"`
	Index        uint32 `bson:"index"`
	Kind         int    `bson:"kind"`
	LinearID     string `bson:"linear_id"`
	Contractor   string `bson:"contractor"`
	Company      string `bson:"company"`
	IssueDate    string `bson:"issue_date,omitempty"`
	HoursWorked  int64  `bson:"hours_worked,omitempty"`
	Paid         bool   `bson:"paid"`
	Data         []byte `bson:"data"`
	Consumed     bool   `bson:"consumed"`
	Seq          int64  `bson:"seq"`
}

func document(s transition.StateAndRef, seq int64) (stateDocument, error) {
	raw, err := serializer.Marshal(s)
	if err != nil {
		return stateDocument{}, err
	}
	d := stateDocument{
		Ref:          s.Ref.String(),
		TransitionID: transition.Hex(s.Ref.TransitionID),
		Index:        s.Ref.Index,
		Kind:         int(s.State.Kind),
		Data:         raw,
		Seq:          seq,
	}
	switch {
	case s.State.Kind == transition.KindInvoice && s.State.Invoice != nil:
		inv := s.State.Invoice
		d.LinearID = inv.LinearID.String()
		d.Contractor = inv.Contractor
		d.Company = inv.Company
		d.IssueDate = inv.IssueDate.String()
		d.HoursWorked = inv.HoursWorked
		d.Paid = inv.Paid
	case s.State.Kind == transition.KindSettlement && s.State.Settlement != nil:
		d.LinearID = s.State.Settlement.InvoiceID.String()
		d.Contractor = s.State.Settlement.Payee
		d.Company = s.State.Settlement.Payer
	}
	return d, nil
}

// Record stores notarised transition, consuming its inputs. Recording it again does nothing.
// The transition document is written last so an interrupted record is completed by the retry.
func (db DataBase) Record(ctx context.Context, tx transition.Transition) error {
	e, err := vault.Prepare(tx, db.verifier)
	if err != nil {
		return err
	}
	id := transition.Hex(e.ID)

	err = db.inner.Collection(transitionsCollection).FindOne(ctx, bson.M{"_id": id}).Err()
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		return errors.Join(ErrSelectFailed, err)
	}

	if len(e.Produced) > 0 {
		seq := time.Now().UnixNano()
		docs := make([]any, 0, len(e.Produced))
		for i, s := range e.Produced {
			d, err := document(s, seq+int64(i))
			if err != nil {
				return err
			}
			docs = append(docs, d)
		}
		_, err := db.inner.Collection(statesCollection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return errors.Join(ErrInsertFailed, err)
		}
	}

	if len(e.Consumed) > 0 {
		refs := make([]string, 0, len(e.Consumed))
		for _, ref := range e.Consumed {
			refs = append(refs, ref.String())
		}
		_, err := db.inner.Collection(statesCollection).UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": refs}}, bson.M{"$set": bson.M{"consumed": true}})
		if err != nil {
			return errors.Join(ErrUpdateFailed, err)
		}
	}

	_, err = db.inner.Collection(transitionsCollection).InsertOne(ctx,
		transitionDocument{ID: id, Data: e.Raw, CreatedAt: time.Now().UnixMicro()})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// Query reads unconsumed states of the kind matching the predicate in recording order.
func (db DataBase) Query(ctx context.Context, kind transition.StateKind, p vault.Predicate) ([]transition.StateAndRef, error) {
	cur, err := db.inner.Collection(statesCollection).Find(ctx,
		bson.M{"kind": int(kind), "consumed": false}, options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer cur.Close(ctx)

	var found []transition.StateAndRef
	for cur.Next(ctx) {
		var d stateDocument
		if err := cur.Decode(&d); err != nil {
			return nil, errors.Join(ErrUnmarshalFailed, err)
		}
		var s transition.StateAndRef
		if err := serializer.Unmarshal(d.Data, &s); err != nil {
			return nil, errors.Join(ErrUnmarshalFailed, err)
		}
		if vault.Match(s.State, kind, p) {
			found = append(found, s)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return found, nil
}

// Transition reads recorded transition.
func (db DataBase) Transition(ctx context.Context, id [32]byte) (transition.Transition, error) {
	var d transitionDocument
	err := db.inner.Collection(transitionsCollection).FindOne(ctx, bson.M{"_id": transition.Hex(id)}).Decode(&d)
	switch {
	case err == nil:
	case errors.Is(err, mongo.ErrNoDocuments):
		return transition.Transition{}, vault.ErrNotFound
	default:
		return transition.Transition{}, errors.Join(ErrSelectFailed, err)
	}
	tx, err := transition.Decode(d.Data)
	if err != nil {
		return transition.Transition{}, errors.Join(ErrUnmarshalFailed, err)
	}
	return tx, nil
}
