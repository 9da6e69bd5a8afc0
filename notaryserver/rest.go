package notaryserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/transition"
)

// Error codes transported in the ErrorResponse.
const (
	CodeSequencingConflict = "sequencing_conflict"
	CodeMissingSignature   = "missing_signature"
	CodeInvalidSignature   = "invalid_signature"
	CodeWrongNotary        = "wrong_notary"
	CodeUnknownInput       = "unknown_input"
	CodeNotCommitted       = "not_committed"
	CodeBadRequest         = "bad_request"
	CodeUnexpected         = "unexpected"
)

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
	Alive      bool   `json:"alive"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
		})
}

// SubmitRequest carries fully signed transition to commit.
type SubmitRequest struct {
	Transition transition.Transition `json:"transition"`
}

// SubmitResponse is a response for submitted transition.
type SubmitResponse struct {
	Receipt notary.Receipt `json:"receipt"`
	Success bool           `json:"success"`
}

func (s *server) submit(c *fiber.Ctx) error {
	t := time.Now()
	defer func() { s.tele.RecordHistogramTime(submitTelemetryHistogram, time.Since(t)) }()

	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Error(fmt.Sprintf("submit endpoint, failed to parse request body: %s", err.Error()))
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, err)
	}
	if req.Transition.Notary == "" || len(req.Transition.Signatures) == 0 {
		s.log.Error("wrong JSON format of submitted transition")
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, errors.New("transition is missing notary or signatures"))
	}

	receipt, err := s.seq.Submit(c.UserContext(), &req.Transition)
	if err != nil {
		status, code := classify(err)
		s.log.Warn(fmt.Sprintf("submit endpoint, transition rejected [ %s ]: %s", code, err))
		return s.fail(c, status, code, err)
	}

	return c.JSON(SubmitResponse{Receipt: receipt, Success: true})
}

// ReceiptResponse is a response with receipt and notarised transition.
type ReceiptResponse struct {
	Receipt    notary.Receipt        `json:"receipt"`
	Transition transition.Transition `json:"transition"`
}

func (s *server) receipt(c *fiber.Ctx) error {
	t := time.Now()
	defer func() { s.tele.RecordHistogramTime(receiptTelemetryHistogram, time.Since(t)) }()

	id, err := transition.ParseID(c.Params("id"))
	if err != nil {
		s.log.Error(fmt.Sprintf("receipt endpoint, wrong transition id: %s", err))
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, err)
	}

	receipt, err := s.seq.Committed(c.UserContext(), id)
	if err != nil {
		status, code := classify(err)
		return s.fail(c, status, code, err)
	}
	tx, err := s.seq.Transition(c.UserContext(), id)
	if err != nil {
		status, code := classify(err)
		return s.fail(c, status, code, err)
	}

	return c.JSON(ReceiptResponse{Receipt: receipt, Transition: tx})
}

// ErrorResponse describes the reason of the failed request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Err maps the response back on to the notary error it was created from.
func (e ErrorResponse) Err() error {
	var sentinel error
	switch e.Code {
	case CodeSequencingConflict:
		sentinel = notary.ErrSequencingConflict
	case CodeMissingSignature:
		sentinel = transition.ErrMissingSignature
	case CodeInvalidSignature:
		sentinel = transition.ErrSignatureNotValidOrDataCorrupted
	case CodeWrongNotary:
		sentinel = notary.ErrWrongNotary
	case CodeUnknownInput:
		sentinel = notary.ErrUnknownInput
	case CodeNotCommitted:
		sentinel = notary.ErrNotCommitted
	case CodeBadRequest:
		return fmt.Errorf("notary rejected request: %s", e.Error)
	default:
		sentinel = notary.ErrUnexpected
	}
	return fmt.Errorf("%w: notary: %s", sentinel, e.Error)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, notary.ErrSequencingConflict):
		return fiber.StatusConflict, CodeSequencingConflict
	case errors.Is(err, transition.ErrMissingSignature):
		return fiber.StatusForbidden, CodeMissingSignature
	case errors.Is(err, transition.ErrSignatureNotValidOrDataCorrupted):
		return fiber.StatusForbidden, CodeInvalidSignature
	case errors.Is(err, notary.ErrWrongNotary):
		return fiber.StatusBadRequest, CodeWrongNotary
	case errors.Is(err, notary.ErrUnknownInput):
		return fiber.StatusBadRequest, CodeUnknownInput
	case errors.Is(err, notary.ErrNotCommitted):
		return fiber.StatusNotFound, CodeNotCommitted
	default:
		return fiber.StatusInternalServerError, CodeUnexpected
	}
}

func (s *server) fail(c *fiber.Ctx, status int, code string, err error) error {
	return c.Status(status).JSON(ErrorResponse{Code: code, Error: err.Error()})
}
