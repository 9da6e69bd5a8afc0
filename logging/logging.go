package logging

import (
	"encoding/json"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bartossh/Timesheet/logger"
)

// Helper helps with writing logs to io.Writers.
// Helper implements logger.Logger interface.
// Writing is done concurrently with out blocking the current thread.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	component   string
	writers     []io.Writer
}

// New creates new Helper.
// The callOnErr is called when log cannot be encoded or written,
// the callOnFatal is called after fatal log is handed to the writers.
func New(callOnErr, callOnFatal func(error), writers ...io.Writer) Helper {
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, writers: writers}
}

// WithComponent returns a copy of the Helper that tags every log with the component name.
func (h Helper) WithComponent(name string) Helper {
	h.component = name
	return h
}

// Debug writes debug log.
func (h Helper) Debug(msg string) {
	h.write(h.entry(logger.LevelDebug, msg))
}

// Info writes info log.
func (h Helper) Info(msg string) {
	h.write(h.entry(logger.LevelInfo, msg))
}

// Warn writes warning log.
func (h Helper) Warn(msg string) {
	h.write(h.entry(logger.LevelWarn, msg))
}

// Error writes error log.
func (h Helper) Error(msg string) {
	h.write(h.entry(logger.LevelError, msg))
}

// Fatal writes fatal log and calls fatal callback.
func (h Helper) Fatal(msg string) {
	l := h.entry(logger.LevelFatal, msg)
	h.writeSync(l)
	if h.callOnFatal != nil {
		h.callOnFatal(&FatalError{Msg: msg})
	}
}

// FatalError is passed to the fatal callback.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return e.Msg
}

func (h Helper) entry(level logger.Level, msg string) *logger.Log {
	return &logger.Log{
		ID:        primitive.NewObjectID(),
		CreatedAt: time.Now(),
		Level:     level,
		Component: h.component,
		Msg:       msg,
	}
}

func (h Helper) write(l *logger.Log) {
	go h.writeSync(l)
}

func (h Helper) writeSync(l *logger.Log) {
	raw, err := json.Marshal(l)
	if err != nil {
		h.onErr(err)
		return
	}
	for _, w := range h.writers {
		if _, err := w.Write(raw); err != nil {
			h.onErr(err)
		}
	}
}

func (h Helper) onErr(err error) {
	if h.callOnErr != nil {
		h.callOnErr(err)
	}
}
