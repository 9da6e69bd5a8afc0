package httpclient

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type echo struct {
	Value string `json:"value"`
}

func serve(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/echo":
			ctx.SetContentType("application/json")
			ctx.SetBody(ctx.PostBody())
		case "/get":
			ctx.SetContentType("application/json")
			raw, _ := json.Marshal(echo{Value: "get"})
			ctx.SetBody(raw)
		case "/text":
			ctx.SetContentType("text/plain")
			ctx.SetBodyString("plain")
		case "/auth":
			if string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) != "Basic token" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		case "/empty":
			ctx.SetStatusCode(fasthttp.StatusNoContent)
		default:
			ctx.SetStatusCode(fasthttp.StatusConflict)
			ctx.SetBodyString(`{"code":"conflict"}`)
		}
	}}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown() })
	return "http://" + ln.Addr().String()
}

func TestMakePost(t *testing.T) {
	url := serve(t)
	var in echo
	require.NoError(t, MakePost(time.Second, url+"/echo", echo{Value: "posted"}, &in))
	assert.Equal(t, "posted", in.Value)
}

func TestMakeGet(t *testing.T) {
	url := serve(t)
	var in echo
	require.NoError(t, MakeGet(time.Second, url+"/get", &in))
	assert.Equal(t, "get", in.Value)
	assert.NoError(t, MakeGet(time.Second, url+"/empty", &in))
	assert.NoError(t, MakeGet(time.Second, url+"/text", nil))
}

func TestMakeGetErrors(t *testing.T) {
	url := serve(t)
	var in echo

	err := MakeGet(time.Second, url+"/text", &in)
	assert.ErrorIs(t, err, ErrContentTypeMismatch)

	err = MakeGet(time.Second, url+"/missing", &in)
	assert.ErrorIs(t, err, ErrStatusCodeMismatch)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, fasthttp.StatusConflict, status.Code)
	assert.JSONEq(t, `{"code":"conflict"}`, string(status.Body))
}

func TestMakeAuthorizedPost(t *testing.T) {
	url := serve(t)
	assert.NoError(t, MakeAuthorizedPost(time.Second, url+"/auth", "Basic token", echo{}, nil))

	err := MakePost(time.Second, url+"/auth", echo{}, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, fasthttp.StatusUnauthorized, status.Code)
}
