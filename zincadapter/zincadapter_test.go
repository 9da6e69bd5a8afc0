package zincadapter

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/logging"
)

func zinc(t *testing.T) (string, <-chan document) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	docs := make(chan document, 8)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case healthz:
			ctx.SetStatusCode(fasthttp.StatusOK)
		case "/api/party/_doc":
			if string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) != "Basic token" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			var d document
			if err := json.Unmarshal(ctx.PostBody(), &d); err != nil {
				ctx.SetStatusCode(fasthttp.StatusBadRequest)
				return
			}
			docs <- d
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown() })
	return "http://" + ln.Addr().String(), docs
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrEmptyAddressProvided)

	addr, _ := zinc(t)
	_, err = New(Config{Address: addr + "/down"})
	assert.ErrorIs(t, err, ErrZincServerNotResponding)
}

func TestWriteLog(t *testing.T) {
	addr, docs := zinc(t)
	z, err := New(Config{Address: addr, Index: "party", Token: "Basic token"})
	require.NoError(t, err)

	failed := make(chan error, 1)
	log := logging.New(func(err error) { failed <- err }, func(error) {}, io.Writer(&z)).WithComponent("flow")
	log.Warn("run [ 1 ] declined")

	select {
	case d := <-docs:
		assert.Equal(t, logger.LevelWarn, d.Level)
		assert.Equal(t, "flow", d.Component)
		assert.Equal(t, "run [ 1 ] declined", d.Msg)
	case err := <-failed:
		t.Fatal(err)
	case <-time.After(time.Second * 2):
		t.Fatal("log was not written")
	}
}

func TestWriteUnauthorized(t *testing.T) {
	addr, _ := zinc(t)
	z, err := New(Config{Address: addr, Index: "party"})
	require.NoError(t, err)

	n, err := z.Write([]byte("plain text"))
	assert.ErrorIs(t, err, ErrZincServerWriteFailed)
	assert.Zero(t, n)
}
