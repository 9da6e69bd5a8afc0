package nodeserver

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/bartossh/Timesheet/checkpoint"
	"github.com/bartossh/Timesheet/flow"
	"github.com/bartossh/Timesheet/notary"
	"github.com/bartossh/Timesheet/oracle"
	"github.com/bartossh/Timesheet/transition"
	"github.com/bartossh/Timesheet/validator"
	"github.com/bartossh/Timesheet/webhooks"
)

// Error codes transported in the ErrorResponse.
const (
	CodeValidation         = "validation"
	CodeInvoiceNotFound    = "invoice_not_found"
	CodeRunNotFound        = "run_not_found"
	CodeNotParty           = "not_party"
	CodeRunFinished        = "run_finished"
	CodeNotInitiator       = "not_initiator"
	CodeSequencingConflict = "sequencing_conflict"
	CodeFactMismatch       = "fact_mismatch"
	CodeProtocolAbort      = "protocol_abort"
	CodeBadRequest         = "bad_request"
	CodeUnexpected         = "unexpected"
)

// Webhook triggers accepted in the WebhookRequest.
const (
	TriggerRecorded  = "recorded"
	TriggerRunFailed = "run_failed"
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

// AddressResponse is a response with the party address.
type AddressResponse struct {
	Address string `json:"address"`
}

func (s *server) address(c *fiber.Ctx) error {
	return c.JSON(AddressResponse{Address: s.party.Address()})
}

// OutcomeResponse is a response with the result of the finished run.
type OutcomeResponse struct {
	RunID        string                `json:"run_id"`
	TransitionID string                `json:"transition_id"`
	Receipt      notary.Receipt        `json:"receipt"`
	Transition   transition.Transition `json:"transition"`
}

func outcomeResponse(o flow.Outcome) OutcomeResponse {
	return OutcomeResponse{
		RunID:        o.RunID,
		TransitionID: transition.Hex(o.TransitionID),
		Receipt:      o.Receipt,
		Transition:   o.Transition,
	}
}

// ErrorResponse is a response for a failed request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (s *server) issue(c *fiber.Ctx) error {
	t := time.Now()
	defer func() { s.tele.RecordHistogramTime(issueTelemetryHistogram, time.Since(t)) }()

	var req flow.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Error(fmt.Sprintf("issue endpoint, failed to parse request body: %s", err.Error()))
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}
	if req.Company == "" {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", errors.New("company cannot be empty"))
	}

	out, err := s.party.Issue(s.ctx, req)
	if err != nil {
		status, code := classify(err)
		s.log.Warn(fmt.Sprintf("issue endpoint, run [ %s ] failed [ %s ]: %s", out.RunID, code, err))
		return s.fail(c, status, code, out.RunID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(outcomeResponse(out))
}

func (s *server) pay(c *fiber.Ctx) error {
	t := time.Now()
	defer func() { s.tele.RecordHistogramTime(payTelemetryHistogram, time.Since(t)) }()

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}

	out, err := s.party.Pay(s.ctx, id)
	if err != nil {
		status, code := classify(err)
		s.log.Warn(fmt.Sprintf("pay endpoint, run [ %s ] failed [ %s ]: %s", out.RunID, code, err))
		return s.fail(c, status, code, out.RunID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(outcomeResponse(out))
}

func (s *server) resume(c *fiber.Ctx) error {
	runID := c.Params("id")
	out, err := s.party.Resume(s.ctx, runID)
	if err != nil {
		status, code := classify(err)
		return s.fail(c, status, code, runID, err)
	}
	return c.JSON(outcomeResponse(out))
}

// StatesResponse is a response with the unconsumed states.
type StatesResponse struct {
	States []transition.StateAndRef `json:"states"`
}

func (s *server) invoices(c *fiber.Ctx) error {
	var paid *bool
	if q := c.Query("paid"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
		}
		paid = &v
	}
	states, err := s.party.Invoices(c.UserContext(), paid)
	if err != nil {
		s.log.Error(fmt.Sprintf("invoices endpoint, failed to query vault: %s", err))
		return s.fail(c, fiber.StatusInternalServerError, CodeUnexpected, "", err)
	}
	return c.JSON(StatesResponse{States: states})
}

func (s *server) settlements(c *fiber.Ctx) error {
	states, err := s.party.Settlements(c.UserContext())
	if err != nil {
		s.log.Error(fmt.Sprintf("settlements endpoint, failed to query vault: %s", err))
		return s.fail(c, fiber.StatusInternalServerError, CodeUnexpected, "", err)
	}
	return c.JSON(StatesResponse{States: states})
}

// RunsResponse is a response with checkpointed runs, last updated first.
type RunsResponse struct {
	Runs []checkpoint.Record `json:"runs"`
}

func (s *server) runs(c *fiber.Ctx) error {
	runs, err := s.party.Runs(c.UserContext())
	if err != nil {
		s.log.Error(fmt.Sprintf("runs endpoint, failed to list runs: %s", err))
		return s.fail(c, fiber.StatusInternalServerError, CodeUnexpected, "", err)
	}
	return c.JSON(RunsResponse{Runs: runs})
}

// WebhookRequest creates or removes the webhook registered under the name.
type WebhookRequest struct {
	Trigger string `json:"trigger"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

// WebhookResponse confirms the webhook change.
type WebhookResponse struct {
	Success bool `json:"success"`
}

func (s *server) webhook(c *fiber.Ctx) (WebhookRequest, byte, error) {
	var req WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return req, 0, err
	}
	if req.Name == "" {
		return req, 0, errors.New("webhook name cannot be empty")
	}
	switch req.Trigger {
	case TriggerRecorded:
		return req, webhooks.TriggerRecorded, nil
	case TriggerRunFailed:
		return req, webhooks.TriggerRunFailed, nil
	default:
		return req, 0, fmt.Errorf("%w: %s", webhooks.ErrorHookNotImplemented, req.Trigger)
	}
}

func (s *server) createWebhook(c *fiber.Ctx) error {
	req, trigger, err := s.webhook(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}
	if err := s.party.Hooks().CreateWebhook(trigger, req.Name, webhooks.Hook{URL: req.URL, Token: req.Token}); err != nil {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}
	return c.JSON(WebhookResponse{Success: true})
}

func (s *server) removeWebhook(c *fiber.Ctx) error {
	req, trigger, err := s.webhook(c)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}
	if err := s.party.Hooks().RemoveWebhook(trigger, req.Name); err != nil {
		return s.fail(c, fiber.StatusBadRequest, CodeBadRequest, "", err)
	}
	return c.JSON(WebhookResponse{Success: true})
}

func (s *server) fail(c *fiber.Ctx, status int, code, runID string, err error) error {
	return c.Status(status).JSON(ErrorResponse{Code: code, Error: err.Error(), RunID: runID})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, validator.ErrStructuralViolation),
		errors.Is(err, validator.ErrDomainInvariantViolation),
		errors.Is(err, validator.ErrAuthorizationViolation):
		return fiber.StatusUnprocessableEntity, CodeValidation
	case errors.Is(err, flow.ErrInvoiceNotFound):
		return fiber.StatusNotFound, CodeInvoiceNotFound
	case errors.Is(err, checkpoint.ErrNotFound):
		return fiber.StatusNotFound, CodeRunNotFound
	case errors.Is(err, flow.ErrNotParty):
		return fiber.StatusForbidden, CodeNotParty
	case errors.Is(err, flow.ErrRunFinished):
		return fiber.StatusConflict, CodeRunFinished
	case errors.Is(err, flow.ErrNotInitiator):
		return fiber.StatusBadRequest, CodeNotInitiator
	case errors.Is(err, notary.ErrSequencingConflict):
		return fiber.StatusConflict, CodeSequencingConflict
	case errors.Is(err, oracle.ErrFactMismatch):
		return fiber.StatusConflict, CodeFactMismatch
	case errors.Is(err, flow.ErrProtocolAbort):
		return fiber.StatusBadGateway, CodeProtocolAbort
	default:
		return fiber.StatusInternalServerError, CodeUnexpected
	}
}
