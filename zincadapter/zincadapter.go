package zincadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Timesheet/httpclient"
	"github.com/bartossh/Timesheet/logger"
)

const (
	healthz        = "/healthz"
	createDocument = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrEmptyAddressProvided    = errors.New("empty zinc server address provided")
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
)

// Config contains configuration for logger back-end.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address
	Index   string `yaml:"index"`   // unique index per party to easy search for logs by the party
	Token   string `yaml:"token"`   // value of the authorization header, "Basic <credentials>"
}

type document struct {
	CreatedAt time.Time    `json:"@timestamp"`
	Level     logger.Level `json:"level"`
	Component string       `json:"component,omitempty"`
	Msg       string       `json:"msg"`
}

// ZincClient sends logs to the zincsearch backend, one document per log.
type ZincClient struct {
	address string
	index   string
	token   string
}

// New creates a new ZincClient when the zinc server responds on the health check.
func New(cfg Config) (ZincClient, error) {
	if cfg.Address == "" {
		return ZincClient{}, ErrEmptyAddressProvided
	}
	if err := httpclient.MakeGet(timeout, cfg.Address+healthz, nil); err != nil {
		return ZincClient{}, errors.Join(ErrZincServerNotResponding, err)
	}
	return ZincClient{address: cfg.Address, index: cfg.Index, token: cfg.Token}, nil
}

// Write satisfies io.Writer abstraction.
// p is a marshaled logger.Log, anything else is stored as the message.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	var l logger.Log
	doc := document{CreatedAt: time.Now(), Level: logger.LevelInfo, Msg: string(p)}
	if json.Unmarshal(p, &l) == nil && l.Msg != "" {
		doc = document{CreatedAt: l.CreatedAt, Level: l.Level, Component: l.Component, Msg: l.Msg}
	}
	url := z.address + fmt.Sprintf(createDocument, z.index)
	if err := httpclient.MakeAuthorizedPost(timeout, url, z.token, doc, nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}
