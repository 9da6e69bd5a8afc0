package notaryserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/invoice"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/spice"
	"github.com/bartossh/Timesheet/storage"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/wallet"
)

type fixture struct {
	contractor, company, oracle, notary wallet.Wallet
	app                                 *fiber.App
}

func newFixture(t *testing.T) *fixture {
	var f fixture
	for _, w := range []*wallet.Wallet{&f.contractor, &f.company, &f.oracle, &f.notary} {
		nw, err := wallet.New()
		require.NoError(t, err)
		*w = nw
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	db, err := storage.CreateBadgerDB(ctx, "", log, true)
	require.NoError(t, err)
	tele := telemetry.New()
	s := &server{seq: notary.New(db, &f.notary, wallet.Helper{}, tele, log), tele: tele, log: log}
	s.tele.CreateUpdateObservableHistogtram(submitTelemetryHistogram, "submit")
	s.tele.CreateUpdateObservableHistogtram(receiptTelemetryHistogram, "receipt")
	f.app = s.router()
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

func (f *fixture) submit(t *testing.T, tx transition.Transition) *http.Response {
	raw, err := json.Marshal(SubmitRequest{Transition: tx})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, SubmitURL, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAlive(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, AliveURL, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	alive := decode[AliveResponse](t, resp)
	assert.True(t, alive.Alive)
	assert.Equal(t, ApiVersion, alive.APIVersion)
	assert.Equal(t, Header, alive.APIHeader)
}

func TestSubmitAndReadReceipt(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t)
	id, err := tx.ID()
	require.NoError(t, err)

	resp := f.submit(t, tx)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submitted := decode[SubmitResponse](t, resp)
	assert.True(t, submitted.Success)
	assert.Equal(t, id, submitted.Receipt.TransitionID)
	assert.Equal(t, f.notary.Address(), submitted.Receipt.Signature.By)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, ReceiptPath(id), nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	read := decode[ReceiptResponse](t, resp)
	assert.Equal(t, submitted.Receipt, read.Receipt)
	assert.NoError(t, read.Transition.Notarised(wallet.Helper{}))
}

func TestSubmitConflict(t *testing.T) {
	f := newFixture(t)
	create := f.create(t)
	resp := f.submit(t, create)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	produced, err := create.Produced()
	require.NoError(t, err)

	resp = f.submit(t, f.pay(t, produced[0]))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.submit(t, f.pay(t, produced[0]))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decode[ErrorResponse](t, resp)
	assert.Equal(t, CodeSequencingConflict, e.Code)
	assert.ErrorIs(t, e.Err(), notary.ErrSequencingConflict)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, SubmitURL, bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, CodeBadRequest, decode[ErrorResponse](t, resp).Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		tx := f.create(t)
		tx.Signatures = tx.Signatures[:2]
		resp := f.submit(t, tx)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.ErrorIs(t, decode[ErrorResponse](t, resp).Err(), transition.ErrMissingSignature)
	})

	t.Run("unknown input", func(t *testing.T) {
		create := f.create(t)
		produced, err := create.Produced()
		require.NoError(t, err)
		resp := f.submit(t, f.pay(t, produced[0]))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.ErrorIs(t, decode[ErrorResponse](t, resp).Err(), notary.ErrUnknownInput)
	})
}

func TestReceiptRejections(t *testing.T) {
	f := newFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, receiptURL+"zz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, ReceiptPath([32]byte{1}), nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.ErrorIs(t, decode[ErrorResponse](t, resp).Err(), notary.ErrNotCommitted)
}

func TestErrorResponseErr(t *testing.T) {
	cases := map[string]error{
		CodeSequencingConflict: notary.ErrSequencingConflict,
		CodeMissingSignature:   transition.ErrMissingSignature,
		CodeInvalidSignature:   transition.ErrSignatureNotValidOrDataCorrupted,
		CodeWrongNotary:        notary.ErrWrongNotary,
		CodeUnknownInput:       notary.ErrUnknownInput,
		CodeNotCommitted:       notary.ErrNotCommitted,
		CodeUnexpected:         notary.ErrUnexpected,
		"whatever":             notary.ErrUnexpected,
	}
	for code, want := range cases {
		assert.ErrorIs(t, ErrorResponse{Code: code, Error: "reason"}.Err(), want, code)
	}
	err := ErrorResponse{Code: CodeBadRequest, Error: "reason"}.Err()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, notary.ErrUnexpected))
}

func TestValidateConfig(t *testing.T) {
	assert.ErrorIs(t, validateConfig(&Config{Port: 0}), ErrWrongPortSpecified)
	assert.ErrorIs(t, validateConfig(&Config{Port: 65536}), ErrWrongPortSpecified)
	assert.NoError(t, validateConfig(&Config{Port: 8020}))
}
