package webhooks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Timesheet/httpclient"
	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/transition"
)

const postTimeout = time.Second * 5

const (
	TriggerRecorded  byte = iota // TriggerRecorded is triggered when a notarised transition is recorded in the vault.
	TriggerRunFailed             // TriggerRunFailed is triggered when a protocol run of the party finishes with error.
)

var (
	ErrorHookNotImplemented = errors.New("hook not implemented")
	ErrorHookURLEmpty       = errors.New("hook url cannot be empty")
)

// RecordedMessage is the message send to the webhook url about the recorded transition.
type RecordedMessage struct {
	Token        string                   `json:"token"`         // Token given to the webhook by the webhooks creator to validate the message source.
	TransitionID string                   `json:"transition_id"` // TransitionID is the hex encoded id of the recorded transition.
	Command      string                   `json:"command"`       // Command is the kind of the command, create or pay.
	Consumed     []transition.StateRef    `json:"consumed"`      // Consumed are references of the states the transition consumed.
	Produced     []transition.StateAndRef `json:"produced"`      // Produced are the states the transition created.
	Time         time.Time                `json:"time"`
}

// RunFailedMessage is the message send to the webhook url about the failed protocol run.
type RunFailedMessage struct {
	Token    string    `json:"token"`
	RunID    string    `json:"run_id"`
	Protocol string    `json:"protocol"`
	Peer     string    `json:"peer"`
	Err      string    `json:"error"`
	Time     time.Time `json:"time"`
}

// Hook is the hook that is used to trigger the webhook.
type Hook struct {
	URL   string `json:"address"` // URL is a url  of the webhook.
	Token string `json:"token"`   // Token is the token added to the webhook to verify that the message comes from the valid source.
}

type hooks map[string]Hook

// Service provide webhook service that is used to create, remove and post webhooks.
type Service struct {
	mux    sync.RWMutex
	buffer map[byte]hooks
	log    logger.Logger
}

// New creates new instance of the webhook service.
func New(l logger.Logger) *Service {
	return &Service{
		buffer: make(map[byte]hooks),
		log:    l,
	}
}

// CreateWebhook creates new webhook or updates existing one registered under the name for given trigger.
func (s *Service) CreateWebhook(trigger byte, name string, h Hook) error {
	if h.URL == "" {
		return ErrorHookURLEmpty
	}
	switch trigger {
	case TriggerRecorded, TriggerRunFailed:
		s.insertHook(trigger, name, h)
	default:
		return ErrorHookNotImplemented
	}
	return nil
}

// RemoveWebhook removes webhook registered under the name for given trigger.
func (s *Service) RemoveWebhook(trigger byte, name string) error {
	switch trigger {
	case TriggerRecorded, TriggerRunFailed:
		s.removeHook(trigger, name)
	default:
		return ErrorHookNotImplemented
	}
	return nil
}

// Hooks returns number of hooks registered for the trigger.
func (s *Service) Hooks(trigger byte) int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.buffer[trigger])
}

// PostRecorded posts the recorded transition to all webhooks subscribed to the recorded trigger.
func (s *Service) PostRecorded(tx *transition.Transition) {
	hs := s.snapshot(TriggerRecorded)
	if len(hs) == 0 {
		return
	}

	id, err := tx.ID()
	if err != nil {
		s.log.Error(fmt.Sprintf("webhook service cannot compute transition id: %s", err))
		return
	}
	produced, err := tx.Produced()
	if err != nil {
		s.log.Error(fmt.Sprintf("webhook service cannot resolve produced states: %s", err))
		return
	}
	consumed := make([]transition.StateRef, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		consumed = append(consumed, in.Ref)
	}

	for _, h := range hs {
		msg := RecordedMessage{
			Token:        h.Token,
			TransitionID: transition.Hex(id),
			Command:      tx.Command.Kind.String(),
			Consumed:     consumed,
			Produced:     produced,
			Time:         time.Now(),
		}
		s.post(h, msg)
	}
}

// PostRunFailed posts the failed run to all webhooks subscribed to the run failed trigger.
func (s *Service) PostRunFailed(runID, protocol, peer string, runErr error) {
	for _, h := range s.snapshot(TriggerRunFailed) {
		s.post(h, RunFailedMessage{
			Token:    h.Token,
			RunID:    runID,
			Protocol: protocol,
			Peer:     peer,
			Err:      runErr.Error(),
			Time:     time.Now(),
		})
	}
}

func (s *Service) post(h Hook, msg any) {
	if err := httpclient.MakePost(postTimeout, h.URL, msg, nil); err != nil {
		s.log.Error(fmt.Sprintf("webhook service error posting to webhook url: %s, %s", h.URL, err.Error()))
	}
}

func (s *Service) snapshot(trigger byte) []Hook {
	s.mux.RLock()
	defer s.mux.RUnlock()
	hs := make([]Hook, 0, len(s.buffer[trigger]))
	for _, h := range s.buffer[trigger] {
		hs = append(hs, h)
	}
	return hs
}

func (s *Service) insertHook(trigger byte, name string, h Hook) {
	s.mux.Lock()
	defer s.mux.Unlock()
	hs, ok := s.buffer[trigger]
	if !ok {
		hs = make(hooks)
		s.buffer[trigger] = hs
	}
	hs[name] = h
}

func (s *Service) removeHook(trigger byte, name string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	hs, ok := s.buffer[trigger]
	if !ok {
		return
	}
	delete(hs, name)
}
