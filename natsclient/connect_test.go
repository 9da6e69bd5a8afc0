package natsclient

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/Timesheet/logging"
)

func TestConnectRequiresAddress(t *testing.T) {
	log := logging.New(func(error) {}, func(error) {}, io.Discard)
	tr, err := Connect(Config{Name: "contractor"}, "contractor", log)
	assert.ErrorIs(t, err, ErrEmptyAddressProvided)
	assert.Nil(t, tr)
}

func TestSubject(t *testing.T) {
	tr := &Transport{prefix: defaultPrefix}
	assert.Equal(t, "timesheet.company", tr.subject("company"))
}
