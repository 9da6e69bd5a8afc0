package nodeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fasthttpws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/flow"
	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/node"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/reactive"
	"github.com/bartossh/Timesheet/telemetry"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/validator"
	"github.com/bartossh/Timesheet/webhooks"
)

type fakeParty struct {
	outcome  flow.Outcome
	err      error
	issued   []flow.IssueRequest
	paid     []uuid.UUID
	resumed  []string
	paidArg  *bool
	runs     []checkpoint.Record
	feed     *reactive.Observable[node.Recorded]
	webhooks *webhooks.Service
}

func newFakeParty() *fakeParty {
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	return &fakeParty{feed: reactive.New[node.Recorded](8), webhooks: webhooks.New(log)}
}

func (p *fakeParty) Address() string { return "party" }

func (p *fakeParty) Issue(_ context.Context, req flow.IssueRequest) (flow.Outcome, error) {
	p.issued = append(p.issued, req)
	return p.outcome, p.err
}

func (p *fakeParty) Pay(_ context.Context, id uuid.UUID) (flow.Outcome, error) {
	p.paid = append(p.paid, id)
	return p.outcome, p.err
}

func (p *fakeParty) Resume(_ context.Context, runID string) (flow.Outcome, error) {
	p.resumed = append(p.resumed, runID)
	return p.outcome, p.err
}

func (p *fakeParty) Runs(context.Context) ([]checkpoint.Record, error) { return p.runs, nil }

func (p *fakeParty) Invoices(_ context.Context, paid *bool) ([]transition.StateAndRef, error) {
	p.paidArg = paid
	return []transition.StateAndRef{{State: transition.State{Kind: transition.KindInvoice}}}, nil
}

func (p *fakeParty) Settlements(context.Context) ([]transition.StateAndRef, error) { return nil, nil }

func (p *fakeParty) Subscribe() *reactive.Subscriber[node.Recorded] { return p.feed.Subscribe() }

func (p *fakeParty) Hooks() *webhooks.Service { return p.webhooks }

func testServer(p party) *server {
	return &server{
		ctx:   context.Background(),
		party: p,
		tele:  telemetry.New(),
		log:   logging.New(func(error) {}, func(error) {}, io.Discard),
	}
}

func do(t *testing.T, s *server, method, url string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.router().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAlive(t *testing.T) {
	s := testServer(newFakeParty())
	resp := do(t, s, http.MethodGet, AliveURL, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	alive := decode[AliveResponse](t, resp)
	assert.True(t, alive.Alive)
	assert.Equal(t, ApiVersion, alive.APIVersion)

	resp = do(t, s, http.MethodGet, AddressURL, nil)
	assert.Equal(t, "party", decode[AddressResponse](t, resp).Address)
}

func TestIssue(t *testing.T) {
	p := newFakeParty()
	p.outcome = flow.Outcome{RunID: "run", TransitionID: [32]byte{1}}
	s := testServer(p)

	resp := do(t, s, http.MethodPost, InvoicesURL, map[string]any{
		"company":      "company",
		"hours_worked": 3,
		"issue_date":   "2019-05-13",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[OutcomeResponse](t, resp)
	assert.Equal(t, "run", out.RunID)
	assert.Equal(t, transition.Hex([32]byte{1}), out.TransitionID)

	require.Len(t, p.issued, 1)
	assert.Equal(t, "company", p.issued[0].Company)
	assert.Equal(t, int64(3), p.issued[0].HoursWorked)
	assert.Equal(t, 13, p.issued[0].IssueDate.Day)

	resp = do(t, s, http.MethodPost, InvoicesURL, map[string]any{"hours_worked": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, p.issued, 1)
}

func TestIssueErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: &validator.Rejection{Violations: []error{validator.ErrHoursNotPositive}}, status: http.StatusUnprocessableEntity, code: CodeValidation},
		{err: fmt.Errorf("%w: company declined", flow.ErrProtocolAbort), status: http.StatusBadGateway, code: CodeProtocolAbort},
		{err: fmt.Errorf("%w: notary", notary.ErrSequencingConflict), status: http.StatusConflict, code: CodeSequencingConflict},
		{err: flow.ErrInvoiceNotFound, status: http.StatusNotFound, code: CodeInvoiceNotFound},
		{err: io.ErrUnexpectedEOF, status: http.StatusInternalServerError, code: CodeUnexpected},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			p := newFakeParty()
			p.outcome = flow.Outcome{RunID: "failed"}
			p.err = c.err
			resp := do(t, testServer(p), http.MethodPost, InvoicesURL, map[string]any{"company": "company", "hours_worked": 1})
			assert.Equal(t, c.status, resp.StatusCode)
			e := decode[ErrorResponse](t, resp)
			assert.Equal(t, c.code, e.Code)
			assert.Equal(t, "failed", e.RunID)
			assert.Equal(t, c.err.Error(), e.Error)
		})
	}
}

func TestPay(t *testing.T) {
	p := newFakeParty()
	s := testServer(p)
	id := uuid.New()

	resp := do(t, s, http.MethodPost, fmt.Sprintf("%s/%s/pay", InvoicesURL, id), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, p.paid, 1)
	assert.Equal(t, id, p.paid[0])

	resp = do(t, s, http.MethodPost, InvoicesURL+"/not-an-id/pay", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResume(t *testing.T) {
	p := newFakeParty()
	s := testServer(p)

	resp := do(t, s, http.MethodPost, RunsURL+"/run/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"run"}, p.resumed)

	p.err = checkpoint.ErrNotFound
	resp = do(t, s, http.MethodPost, RunsURL+"/missing/resume", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeRunNotFound, decode[ErrorResponse](t, resp).Code)
}

func TestInvoicesFilter(t *testing.T) {
	p := newFakeParty()
	s := testServer(p)

	resp := do(t, s, http.MethodGet, InvoicesURL+"?paid=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[StatesResponse](t, resp).States, 1)
	require.NotNil(t, p.paidArg)
	assert.True(t, *p.paidArg)

	do(t, s, http.MethodGet, InvoicesURL, nil)
	assert.Nil(t, p.paidArg)

	resp = do(t, s, http.MethodGet, InvoicesURL+"?paid=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuns(t *testing.T) {
	p := newFakeParty()
	p.runs = []checkpoint.Record{{RunID: "a", State: flow.Done}}
	resp := do(t, testServer(p), http.MethodGet, RunsURL, nil)
	runs := decode[RunsResponse](t, resp).Runs
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].RunID)
}

func TestWebhooks(t *testing.T) {
	p := newFakeParty()
	s := testServer(p)

	resp := do(t, s, http.MethodPost, WebhooksURL, WebhookRequest{Trigger: TriggerRecorded, Name: "a", URL: "http://localhost/hook"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, p.webhooks.Hooks(webhooks.TriggerRecorded))

	resp = do(t, s, http.MethodPost, WebhooksURL, WebhookRequest{Trigger: "mined", Name: "a", URL: "http://localhost/hook"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, s, http.MethodDelete, WebhooksURL, WebhookRequest{Trigger: TriggerRecorded, Name: "a"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, p.webhooks.Hooks(webhooks.TriggerRecorded))
}

func TestWebsocketFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newFakeParty()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, p, telemetry.New(), logging.New(func(error) {}, func(error) {}, io.Discard))
	}()

	conn, _, err := fasthttpws.DefaultDialer.Dial("ws://"+ln.Addr().String()+WsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.feed.Len() == 1 }, time.Second*2, time.Millisecond*10)
	p.feed.Publish(node.Recorded{TransitionID: "abc", Command: "create"})

	conn.SetReadDeadline(time.Now().Add(time.Second * 2))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, CommandRecorded, msg.Command)
	require.NotNil(t, msg.Recorded)
	assert.Equal(t, "abc", msg.Recorded.TransitionID)

	resp := do(t, testServer(p), http.MethodGet, WsURL, nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("server did not stop")
	}
}

func TestValidateConfig(t *testing.T) {
	assert.ErrorIs(t, validateConfig(&Config{}), ErrWrongPortSpecified)
	assert.ErrorIs(t, validateConfig(&Config{Port: 65536}), ErrWrongPortSpecified)
	assert.NoError(t, validateConfig(&Config{Port: 8080}))
}
