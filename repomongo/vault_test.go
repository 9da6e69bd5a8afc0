package repomongo

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/transition"
)

func TestDocument(t *testing.T) {
	rate := spice.New(8, 0)
	inv := invoice.Invoice{
		Contractor:  "contractor",
		Company:     "company",
		IssueDate:   civil.Date{Year: 2019, Month: 5, Day: 13},
		HoursWorked: 7,
		Rate:        &rate,
		LinearID:    uuid.New(),
	}
	s := transition.StateAndRef{Ref: transition.StateRef{TransitionID: [32]byte{9}, Index: 1}, State: transition.InvoiceState(inv)}

	d, err := document(s, 42)
	require.NoError(t, err)
	assert.Equal(t, s.Ref.String(), d.Ref)
	assert.Equal(t, transition.Hex(s.Ref.TransitionID), d.TransitionID)
	assert.Equal(t, int(transition.KindInvoice), d.Kind)
	assert.Equal(t, inv.LinearID.String(), d.LinearID)
	assert.Equal(t, "2019-05-13", d.IssueDate)
	assert.Equal(t, int64(7), d.HoursWorked)
	assert.Equal(t, int64(42), d.Seq)
	assert.False(t, d.Consumed)

	var decoded transition.StateAndRef
	require.NoError(t, serializer.Unmarshal(d.Data, &decoded))
	assert.Equal(t, s.Ref, decoded.Ref)
	assert.True(t, inv.SameTerms(*decoded.State.Invoice))

	settlement := transition.StateAndRef{State: transition.SettlementState(invoice.Settlement{
		Payer: "company", Payee: "contractor", Amount: spice.New(56, 0), InvoiceID: inv.LinearID,
	})}
	d, err = document(settlement, 43)
	require.NoError(t, err)
	assert.Equal(t, inv.LinearID.String(), d.LinearID)
	assert.Equal(t, "contractor", d.Contractor)
	assert.Equal(t, "company", d.Company)
	assert.Empty(t, d.IssueDate)
}
