package notaryclient

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/notaryserver"
	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/storage"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/wallet"
)

type fixture struct {
	contractor, company, oracle, notary wallet.Wallet
	client                              *Client
}

func newFixture(t *testing.T) *fixture {
	var f fixture
	for _, w := range []*wallet.Wallet{&f.contractor, &f.company, &f.oracle, &f.notary} {
		nw, err := wallet.New()
		require.NoError(t, err)
		*w = nw
	}
	ctx, cancel := context.WithCancel(context.Background())
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	db, err := storage.CreateBadgerDB(ctx, "", log, true)
	require.NoError(t, err)
	tele := telemetry.New()
	n := notary.New(db, &f.notary, wallet.Helper{}, tele, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		notaryserver.Serve(ctx, ln, n, tele, log)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.client = New(Config{URL: "http://" + ln.Addr().String(), Address: f.notary.Address(), Timeout: 5}, wallet.Helper{})
	return &f
}

func (f *fixture) create(t *testing.T) transition.Transition {
	rate := spice.New(10, 0)
	inv := invoice.Invoice{
		Contractor:  f.contractor.Address(),
		Company:     f.company.Address(),
		IssueDate:   civil.Date{Year: 2019, Month: 5, Day: 13},
		HoursWorked: 8,
		Rate:        &rate,
		LinearID:    uuid.New(),
	}
	cmd := transition.NewCreate(
		transition.RateFact{Contractor: inv.Contractor, Company: inv.Company, Rate: rate, Known: true},
		f.contractor.Address(), f.company.Address(), f.oracle.Address(),
	)
	tx, err := transition.New(nil, []transition.State{transition.InvoiceState(inv)}, cmd, f.notary.Address())
	require.NoError(t, err)
	for _, w := range []*wallet.Wallet{&f.contractor, &f.company, &f.oracle} {
		_, err := tx.Sign(w)
		require.NoError(t, err)
	}
	return tx
}

func (f *fixture) pay(t *testing.T, issued transition.StateAndRef) transition.Transition {
	inv := *issued.State.Invoice
	amount, err := inv.Amount()
	require.NoError(t, err)
	outputs := []transition.State{
		transition.InvoiceState(inv.Settled()),
		transition.SettlementState(invoice.Settlement{Payer: inv.Company, Payee: inv.Contractor, Amount: amount, InvoiceID: inv.LinearID}),
	}
	tx, err := transition.New([]transition.StateAndRef{issued}, outputs, transition.NewPay(inv.Company, inv.Contractor), f.notary.Address())
	require.NoError(t, err)
	for _, w := range []*wallet.Wallet{&f.company, &f.contractor} {
		_, err := tx.Sign(w)
		require.NoError(t, err)
	}
	return tx
}

func TestValidateApiVersion(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.client.ValidateApiVersion(context.Background()))
	assert.Equal(t, f.notary.Address(), f.client.Address())
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tx := f.create(t)
	receipt, err := f.client.Submit(ctx, &tx)
	require.NoError(t, err)
	assert.NoError(t, tx.Notarised(wallet.Helper{}))

	id, err := tx.ID()
	require.NoError(t, err)
	assert.Equal(t, id, receipt.TransitionID)

	stored, err := f.client.Committed(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, receipt, stored)

	committed, err := f.client.Transition(ctx, id)
	require.NoError(t, err)
	committedID, err := committed.ID()
	require.NoError(t, err)
	assert.Equal(t, id, committedID)
}

func TestSubmitErrorsKeepCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	create := f.create(t)
	_, err := f.client.Submit(ctx, &create)
	require.NoError(t, err)
	produced, err := create.Produced()
	require.NoError(t, err)

	first := f.pay(t, produced[0])
	_, err = f.client.Submit(ctx, &first)
	require.NoError(t, err)

	second := f.pay(t, produced[0])
	_, err = f.client.Submit(ctx, &second)
	assert.ErrorIs(t, err, notary.ErrSequencingConflict)
	assert.ErrorIs(t, second.Notarised(wallet.Helper{}), transition.ErrNotarySignatureMissing)

	id, err := second.ID()
	require.NoError(t, err)
	_, err = f.client.Committed(ctx, id)
	assert.ErrorIs(t, err, notary.ErrNotCommitted)

	unsigned := f.create(t)
	unsigned.Signatures = unsigned.Signatures[:1]
	_, err = f.client.Submit(ctx, &unsigned)
	assert.ErrorIs(t, err, transition.ErrMissingSignature)
}

func TestDeadline(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1", Timeout: 10}, wallet.Helper{})
	assert.Equal(t, 10*time.Second, c.deadline(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.LessOrEqual(t, c.deadline(ctx), time.Second)

	canceled, stop := context.WithCancel(context.Background())
	stop()
	_, err := c.Submit(canceled, &transition.Transition{})
	assert.ErrorIs(t, err, context.Canceled)
}
