package oracle

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/wallet"
)

type fixture struct {
	contractor, company, oracle, notary wallet.Wallet
	table                               *RateTable
	service                             *Service
}

func newFixture(t *testing.T) *fixture {
	var f fixture
	for _, w := range []*wallet.Wallet{&f.contractor, &f.company, &f.oracle, &f.notary} {
		nw, err := wallet.New()
		require.NoError(t, err)
		*w = nw
	}
	table, err := NewRateTable([]RateEntry{
		{Contractor: f.contractor.Address(), Company: f.company.Address(), Rate: "10"},
		{Contractor: f.contractor.Address(), Company: f.notary.Address(), Rate: "8.5"},
	})
	require.NoError(t, err)
	f.table = table
	f.service = New(table, &f.oracle, 0, testLog())
	return &f
}

func testLog() logging.Helper {
	return logging.New(func(error) {}, func(error) {}, io.Discard)
}

func (f *fixture) createTx(t *testing.T, fact transition.RateFact, signers ...string) transition.Transition {
	rate := fact.Rate
	inv := invoice.Invoice{
		Contractor:  fact.Contractor,
		Company:     fact.Company,
		IssueDate:   civil.Date{Year: 2019, Month: 5, Day: 13},
		HoursWorked: 1,
		Rate:        &rate,
		LinearID:    uuid.New(),
	}
	tx, err := transition.New(nil, []transition.State{transition.InvoiceState(inv)}, transition.NewCreate(fact, signers...), f.notary.Address())
	require.NoError(t, err)
	return tx
}

func (f *fixture) fact(rate spice.Melange) transition.RateFact {
	return transition.RateFact{Contractor: f.contractor.Address(), Company: f.company.Address(), Rate: rate, Known: true}
}

func (f *fixture) signers() []string {
	return []string{f.contractor.Address(), f.company.Address(), f.oracle.Address()}
}

func TestRateTableQuery(t *testing.T) {
	f := newFixture(t)

	rate, ok := f.table.Query(f.contractor.Address(), f.company.Address())
	assert.True(t, ok)
	assert.True(t, spice.New(10, 0).Equal(rate))

	rate, ok = f.table.Query(f.contractor.Address(), f.notary.Address())
	assert.True(t, ok)
	assert.Equal(t, "8.5", rate.String())

	_, ok = f.table.Query(f.company.Address(), f.contractor.Address())
	assert.False(t, ok)

	fact := Fact(f.table, f.company.Address(), f.contractor.Address())
	assert.False(t, fact.Known)
}

func TestRateTableRejectsMalformedAndDuplicated(t *testing.T) {
	_, err := NewRateTable([]RateEntry{{Contractor: "c", Company: "m", Rate: "ten"}})
	assert.ErrorIs(t, err, spice.ErrMalformedValue)

	_, err = NewRateTable([]RateEntry{{Contractor: "c", Company: "m", Rate: "-1"}})
	assert.ErrorIs(t, err, spice.ErrNegativeValue)

	_, err = NewRateTable([]RateEntry{
		{Contractor: "c", Company: "m", Rate: "1"},
		{Contractor: "c", Company: "m", Rate: "2"},
	})
	assert.ErrorIs(t, err, ErrDuplicatedRate)
}

func TestReadRateTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	content := "rates:\n  - contractor: c\n    company: m\n    rate: \"10\"\n  - contractor: c\n    company: n\n    rate: \"8\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := ReadRateTable(path)
	require.NoError(t, err)
	rate, ok := table.Query("c", "n")
	assert.True(t, ok)
	assert.True(t, spice.New(8, 0).Equal(rate))

	table, err = LoadRateTable(Config{RatesFile: path, Rates: []RateEntry{{Contractor: "d", Company: "m", Rate: "1"}}})
	require.NoError(t, err)
	_, ok = table.Query("d", "m")
	assert.True(t, ok)
	_, ok = table.Query("c", "m")
	assert.True(t, ok)

	_, err = ReadRateTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAttestSignsMatchingRate(t *testing.T) {
	f := newFixture(t)
	tx := f.createTx(t, f.fact(spice.New(10, 0)), f.signers()...)

	ftx, err := tx.Filter(transition.OnlyCommand)
	require.NoError(t, err)
	sig, err := f.service.Attest(ftx)
	require.NoError(t, err)
	assert.Equal(t, f.oracle.Address(), sig.By)

	require.NoError(t, tx.AddSignature(sig, wallet.Helper{}))
	assert.True(t, tx.SignedBy(f.oracle.Address()))
}

func TestAttestRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("rate mismatch", func(t *testing.T) {
		tx := f.createTx(t, f.fact(spice.New(9, 0)), f.signers()...)
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrFactMismatch)
	})

	t.Run("unregistered pair", func(t *testing.T) {
		fact := transition.RateFact{Contractor: f.company.Address(), Company: f.contractor.Address(), Rate: spice.New(10, 0), Known: true}
		tx := f.createTx(t, fact, f.signers()...)
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrFactMismatch)
	})

	t.Run("claimed unknown", func(t *testing.T) {
		fact := f.fact(spice.New(10, 0))
		fact.Known = false
		tx := f.createTx(t, fact, f.signers()...)
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrFactMismatch)
	})

	t.Run("oracle not a signer", func(t *testing.T) {
		tx := f.createTx(t, f.fact(spice.New(10, 0)), f.contractor.Address(), f.company.Address())
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrNotASigner)
	})

	t.Run("tampered view", func(t *testing.T) {
		tx := f.createTx(t, f.fact(spice.New(10, 0)), f.signers()...)
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		ftx.ID[0] ^= 0xff
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrRedactionIntegrity)
	})

	t.Run("over disclosed", func(t *testing.T) {
		tx := f.createTx(t, f.fact(spice.New(10, 0)), f.signers()...)
		ftx, err := tx.Filter(func(transition.Group, uint32) bool { return true })
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrUnexpectedComponent)
	})

	t.Run("pay command", func(t *testing.T) {
		tx, err := transition.New(nil, nil, transition.NewPay(f.oracle.Address()), f.notary.Address())
		require.NoError(t, err)
		ftx, err := tx.Filter(transition.OnlyCommand)
		require.NoError(t, err)
		_, err = f.service.Attest(ftx)
		assert.ErrorIs(t, err, ErrFactMismatch)
	})
}

func TestDeclineKeepsCategory(t *testing.T) {
	for _, sentinel := range []error{ErrFactMismatch, ErrRedactionIntegrity, ErrNotASigner, ErrUnexpectedComponent} {
		assert.ErrorIs(t, declineOf(sentinel).Err(), sentinel)
	}
	assert.EqualError(t, Decline{Reason: "busy"}.Err(), "oracle declined: busy")
}
