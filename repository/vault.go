package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/vault"
)

type row struct {
	kind       transition.StateKind
	linearID   string
	contractor string
	company    string
	issueDate  any
	hours      any
	paid       bool
}

func columns(s transition.State) row {
	switch {
	case s.Kind == transition.KindInvoice && s.Invoice != nil:
		return row{
			kind:       s.Kind,
			linearID:   s.Invoice.LinearID.String(),
			contractor: s.Invoice.Contractor,
			company:    s.Invoice.Company,
			issueDate:  s.Invoice.IssueDate.String(),
			hours:      s.Invoice.HoursWorked,
			paid:       s.Invoice.Paid,
		}
	case s.Kind == transition.KindSettlement && s.Settlement != nil:
		return row{
			kind:       s.Kind,
			linearID:   s.Settlement.InvoiceID.String(),
			contractor: s.Settlement.Payee,
			company:    s.Settlement.Payer,
		}
	default:
		return row{kind: s.Kind}
	}
}

// Record stores notarised transition, consuming its inputs. Recording it again does nothing.
func (db DataBase) Record(ctx context.Context, tx transition.Transition) error {
	e, err := vault.Prepare(tx, db.verifier)
	if err != nil {
		return err
	}

	sqlTx, err := db.inner.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(ErrTrxBeginFailed, err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		"INSERT INTO transitions (id, data, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
		e.ID[:], e.Raw, time.Now().UnixMicro())
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for _, ref := range e.Consumed {
		_, err := sqlTx.ExecContext(ctx,
			"UPDATE states SET consumed = TRUE WHERE transition_id = $1 AND output_index = $2",
			ref.TransitionID[:], int64(ref.Index))
		if err != nil {
			return errors.Join(ErrUpdateFailed, err)
		}
	}

	for _, s := range e.Produced {
		raw, err := serializer.Marshal(s)
		if err != nil {
			return err
		}
		r := columns(s.State)
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO
				states(
					transition_id, output_index, kind, linear_id, contractor, company, issue_date, hours_worked, paid, data
				) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID[:], int64(s.Ref.Index), int64(r.kind), r.linearID, r.contractor, r.company,
			r.issueDate, r.hours, r.paid, raw)
		if err != nil {
			return errors.Join(ErrInsertFailed, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}
	return nil
}

// Query reads unconsumed states of the kind matching the predicate in recording order.
func (db DataBase) Query(ctx context.Context, kind transition.StateKind, p vault.Predicate) ([]transition.StateAndRef, error) {
	rows, err := db.inner.QueryContext(ctx,
		"SELECT data FROM states WHERE consumed = FALSE AND kind = $1 ORDER BY id ASC", int64(kind))
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var found []transition.StateAndRef
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		var s transition.StateAndRef
		if err := serializer.Unmarshal(raw, &s); err != nil {
			return nil, errors.Join(ErrUnmarshalFailed, err)
		}
		if vault.Match(s.State, kind, p) {
			found = append(found, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return found, nil
}

// Transition reads recorded transition.
func (db DataBase) Transition(ctx context.Context, id [32]byte) (transition.Transition, error) {
	var raw []byte
	err := db.inner.QueryRowContext(ctx, "SELECT data FROM transitions WHERE id = $1", id[:]).Scan(&raw)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return transition.Transition{}, vault.ErrNotFound
	default:
		return transition.Transition{}, errors.Join(ErrSelectFailed, err)
	}
	tx, err := transition.Decode(raw)
	if err != nil {
		return transition.Transition{}, errors.Join(ErrUnmarshalFailed, err)
	}
	return tx, nil
}
