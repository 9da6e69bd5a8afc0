package natsclient

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bartossh/Timesheet/logger"
)

const defaultPrefix = "timesheet"

const (
	reconnectWait = time.Second * 2
	maxReconnects = 30
)

var ErrEmptyAddressProvided = errors.New("empty nats server address provided")

// Config contains all arguments required to connect to the nats service
type Config struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
	Prefix  string `yaml:"subject_prefix"` // Prefix of the party subjects, defaults to timesheet.
}

type socket struct {
	conn *nats.Conn
}

func connect(cfg Config, log logger.Logger) (*socket, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddressProvided
	}
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(fmt.Sprintf("nats [ %s ] disconnected: %s", cfg.Name, err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(fmt.Sprintf("nats [ %s ] reconnected to %s", cfg.Name, c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, err
	}
	return &socket{conn: conn}, nil
}

// Disconnect drains the subscriptions and publishers, then closes the connection.
func (s *socket) Disconnect() error {
	return s.conn.Drain()
}
