package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Timesheet/logger"
)

type collector struct {
	mux   sync.Mutex
	lines [][]byte
	fail  bool
}

func (c *collector) Write(p []byte) (int, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.fail {
		return 0, errors.New("write failed")
	}
	c.lines = append(c.lines, append([]byte{}, p...))
	return len(p), nil
}

func (c *collector) count() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.lines)
}

func TestHelperWritesToAllWriters(t *testing.T) {
	first, second := &collector{}, &collector{}
	h := New(func(error) {}, func(error) {}, first, second).WithComponent("sequencer")

	h.Info("finalized")

	assert.Eventually(t, func() bool { return first.count() == 1 && second.count() == 1 }, time.Second, time.Millisecond*5)

	var l logger.Log
	require.NoError(t, json.Unmarshal(first.lines[0], &l))
	assert.Equal(t, logger.LevelInfo, l.Level)
	assert.Equal(t, "sequencer", l.Component)
	assert.Equal(t, "finalized", l.Msg)
}

func TestHelperCallsOnErr(t *testing.T) {
	w := &collector{fail: true}
	errCh := make(chan error, 1)
	h := New(func(err error) { errCh <- err }, func(error) {}, w)

	h.Warn("cannot write")

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("error callback not called")
	}
}

func TestHelperFatalCallsCallback(t *testing.T) {
	w := &collector{}
	var got error
	h := New(func(error) {}, func(err error) { got = err }, w)

	h.Fatal("node stopped")

	assert.Equal(t, 1, w.count())
	require.Error(t, got)
	assert.Equal(t, "node stopped", got.Error())
}
