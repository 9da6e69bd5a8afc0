package transition

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/wallet"
)

type parties struct {
	contractor, company, oracle, notary wallet.Wallet
}

func newParties(t *testing.T) parties {
	var p parties
	for _, w := range []*wallet.Wallet{&p.contractor, &p.company, &p.oracle, &p.notary} {
		nw, err := wallet.New()
		require.NoError(t, err)
		*w = nw
	}
	return p
}

func createTransition(t *testing.T, p parties) Transition {
	rate := spice.New(10, 0)
	inv := invoice.Invoice{
		Contractor:  p.contractor.Address(),
		Company:     p.company.Address(),
		IssueDate:   civil.Date{Year: 2019, Month: 5, Day: 13},
		HoursWorked: 1,
		Rate:        &rate,
		LinearID:    uuid.New(),
	}
	cmd := NewCreate(
		RateFact{Contractor: inv.Contractor, Company: inv.Company, Rate: rate, Known: true},
		p.contractor.Address(), p.company.Address(), p.oracle.Address(),
	)
	tx, err := New(nil, []State{InvoiceState(inv)}, cmd, p.notary.Address())
	require.NoError(t, err)
	return tx
}

func TestIDIsStableUnderSigning(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)

	before, err := tx.ID()
	require.NoError(t, err)

	_, err = tx.Sign(&p.contractor)
	require.NoError(t, err)

	after, err := tx.ID()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIDCommitsToContent(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)
	id, err := tx.ID()
	require.NoError(t, err)

	changed := tx
	inv := *tx.Outputs[0].Invoice
	inv.HoursWorked = 2
	changed.Outputs = []State{InvoiceState(inv)}
	changedID, err := changed.ID()
	require.NoError(t, err)
	assert.NotEqual(t, id, changedID)

	otherNotary := tx
	otherNotary.Notary = p.company.Address()
	otherID, err := otherNotary.ID()
	require.NoError(t, err)
	assert.NotEqual(t, id, otherID)
}

func TestEncodeDecodeKeepsID(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)
	_, err := tx.Sign(&p.contractor)
	require.NoError(t, err)

	raw, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)

	id, err := tx.ID()
	require.NoError(t, err)
	decodedID, err := decoded.ID()
	require.NoError(t, err)
	assert.Equal(t, id, decodedID)
	assert.NoError(t, decoded.VerifySignatures(wallet.Helper{}, p.company.Address(), p.oracle.Address()))
}

func TestJSONKeepsID(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)

	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	var decoded Transition
	require.NoError(t, json.Unmarshal(raw, &decoded))

	id, err := tx.ID()
	require.NoError(t, err)
	decodedID, err := decoded.ID()
	require.NoError(t, err)
	assert.Equal(t, id, decodedID)
}

func TestVerifySignatures(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)
	v := wallet.Helper{}

	_, err := tx.Sign(&p.contractor)
	require.NoError(t, err)

	err = tx.VerifySignatures(v)
	assert.ErrorIs(t, err, ErrMissingSignature)
	assert.NoError(t, tx.VerifySignatures(v, p.company.Address(), p.oracle.Address()))

	_, err = tx.Sign(&p.company)
	require.NoError(t, err)
	_, err = tx.Sign(&p.oracle)
	require.NoError(t, err)
	assert.NoError(t, tx.VerifySignatures(v))

	tx.Signatures[0].Signature[0] ^= 0xff
	assert.ErrorIs(t, tx.VerifySignatures(v), ErrSignatureNotValidOrDataCorrupted)
}

func TestAddSignatureRejectsForeignSignature(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)
	other := createTransition(t, p)

	sig, err := other.Sign(&p.company)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.AddSignature(sig, wallet.Helper{}), ErrSignatureNotValidOrDataCorrupted)
	assert.False(t, tx.SignedBy(p.company.Address()))
}

func TestRequiredSigners(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)

	required := tx.RequiredSigners()
	assert.ElementsMatch(t, []string{p.contractor.Address(), p.company.Address(), p.oracle.Address()}, required)
	assert.NotContains(t, required, p.notary.Address())
}

func TestNotarised(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)

	assert.ErrorIs(t, tx.Notarised(wallet.Helper{}), ErrNotarySignatureMissing)

	_, err := tx.Sign(&p.notary)
	require.NoError(t, err)
	assert.NoError(t, tx.Notarised(wallet.Helper{}))
}

func TestOutputRefAndProduced(t *testing.T) {
	p := newParties(t)
	tx := createTransition(t, p)
	id, err := tx.ID()
	require.NoError(t, err)

	ref, err := tx.OutputRef(0)
	require.NoError(t, err)
	assert.Equal(t, StateRef{TransitionID: id, Index: 0}, ref)

	_, err = tx.OutputRef(1)
	assert.ErrorIs(t, err, ErrOutputOutOfRange)

	produced, err := tx.Produced()
	require.NoError(t, err)
	require.Len(t, produced, 1)
	assert.Equal(t, ref, produced[0].Ref)

	parsed, err := ParseStateRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)

	_, err = ParseStateRef("nope")
	assert.ErrorIs(t, err, ErrMalformedStateRef)
}

func TestNewRequiresNotary(t *testing.T) {
	_, err := New(nil, nil, NewPay(), "")
	assert.ErrorIs(t, err, ErrNotaryIsEmpty)
}
