package natsclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/bartossh/Timesheet/logger"
	"github.com/bartossh/Timesheet/serializer"
	"github.com/bartossh/Timesheet/transport"
)

// Transport carries protocol sessions over NATS.
// Every address listens on subject <prefix>.<address>.
type Transport struct {
	*transport.Mux
	socket *socket
	sub    *nats.Subscription
	prefix string
	log    logger.Logger
}

// Connect connects to NATS and subscribes to the subject of the address.
func Connect(cfg Config, address string, log logger.Logger) (*Transport, error) {
	s, err := connect(cfg, log)
	if err != nil {
		return nil, err
	}
	t := &Transport{socket: s, prefix: cfg.Prefix, log: log}
	if t.prefix == "" {
		t.prefix = defaultPrefix
	}
	t.Mux = transport.NewMux(address, t.publish, log)
	t.sub, err = s.conn.Subscribe(t.subject(address), t.receive)
	if err != nil {
		return nil, errors.Join(err, s.Disconnect())
	}
	return t, nil
}

func (t *Transport) subject(address string) string {
	return t.prefix + "." + address
}

func (t *Transport) publish(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := serializer.Marshal(msg)
	if err != nil {
		return err
	}
	return t.socket.conn.Publish(t.subject(msg.To), raw)
}

func (t *Transport) receive(m *nats.Msg) {
	var msg transport.Message
	if err := serializer.Unmarshal(m.Data, &msg); err != nil {
		t.log.Error(fmt.Sprintf("nats transport received malformed message on [ %s ]: %s", m.Subject, err))
		return
	}
	if err := t.Mux.Dispatch(msg); err != nil {
		t.log.Warn(fmt.Sprintf("nats transport cannot dispatch message [ %s ] of session [ %s ]: %s", msg.Kind, msg.Session, err))
	}
}

// Close closes every session, unsubscribes and drains the connection.
func (t *Transport) Close() error {
	err := t.Mux.Close()
	if uerr := t.sub.Unsubscribe(); uerr != nil {
		err = errors.Join(err, uerr)
	}
	return errors.Join(err, t.socket.Disconnect())
}
