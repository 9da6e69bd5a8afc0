package stdoutwriter

import (
	"encoding/json"

	"github.com/pterm/pterm"

	"github.com/bartossh/Timesheet/logger"
)

// Logger writes log lines to stdout coloured by the log level.
type Logger struct{}

func (l Logger) Write(p []byte) (n int, err error) {
	var entry logger.Log
	if err := json.Unmarshal(p, &entry); err != nil {
		pterm.Println(string(p))
		return len(p), nil
	}
	switch entry.Level {
	case logger.LevelDebug:
		pterm.Debug.Println(string(p))
	case logger.LevelWarn:
		pterm.Warning.Println(string(p))
	case logger.LevelError, logger.LevelFatal:
		pterm.Error.Println(string(p))
	default:
		pterm.Info.Println(string(p))
	}
	return len(p), nil
}
