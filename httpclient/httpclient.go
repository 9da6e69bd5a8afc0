package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrStatusCodeMismatch  = errors.New("status code mismatch")
	ErrContentTypeMismatch = errors.New("content type mismatch")
)

// StatusError is returned when server responds with unexpected status code.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("expected status code %d but got %d: %s", fasthttp.StatusOK, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrStatusCodeMismatch
}

// MakePost posts out encoded as JSON and decodes JSON response in to in.
func MakePost(timeout time.Duration, url string, out, in any) error {
	return MakeAuthorizedPost(timeout, url, "", out, in)
}

// MakeAuthorizedPost works as MakePost and sends the authorization header when it is not empty.
func MakeAuthorizedPost(timeout time.Duration, url, authorization string, out, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	if authorization != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, authorization)
	}
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	req.SetBody(raw)

	return do(req, timeout, in)
}

// MakeGet gets url and decodes JSON response in to in.
func MakeGet(timeout time.Duration, url string, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	return do(req, timeout, in)
}

func do(req *fasthttp.Request, timeout time.Duration, in any) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	default:
		return &StatusError{Code: resp.StatusCode(), Body: append([]byte(nil), resp.Body()...)}
	}

	if in == nil {
		return nil
	}

	contentType := resp.Header.Peek("Content-Type")
	if bytes.Index(contentType, []byte("application/json")) != 0 {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	return json.Unmarshal(resp.Body(), in)
}
