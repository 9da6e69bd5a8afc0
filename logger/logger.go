package logger

import (
	"time"
)

// Level names severity of the log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Log is a single log entry marshaled and written in to the io.Writer of the helper implementing Logger abstraction.
type Log struct {
	ID        any       `json:"_id"                 bson:"_id"`
	CreatedAt time.Time `json:"created_at"          bson:"created_at"`
	Level     Level     `json:"level"               bson:"level"`
	Component string    `json:"component,omitempty" bson:"component,omitempty"`
	Msg       string    `json:"msg"                 bson:"msg"`
}

// Logger provides logging methods for debug, info, warning, error and fatal.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
}
