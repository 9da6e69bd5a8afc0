//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"gotest.tools/v3/assert"

	"github.com/bartossh/Timesheet/logging"
	"github.com/bartossh/Timesheet/stdoutwriter"
)

func natsTransportTestHelper(tb testing.TB, address string) *Transport {
	godotenv.Load("../.env")
	cfg := Config{
		Address: "nats://127.0.0.1:4222",
		Name:    "integration-test-" + address,
		Token:   os.Getenv("TIMESHEET_NATS_TOKEN"),
		Prefix:  "timesheet-test",
	}

	callbackOnErr := func(err error) {
		fmt.Println("Error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("Error with logger: %s", err))
	}

	log := logging.New(callbackOnErr, callbackOnFatal, stdoutwriter.Logger{})

	t, err := Connect(cfg, address, log)
	assert.NilError(tb, err)
	return t
}

func TestSessionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contractor := natsTransportTestHelper(t, "contractor")
	company := natsTransportTestHelper(t, "company")
	defer contractor.Close()
	defer company.Close()

	out, err := contractor.Open(ctx, "company", "issue")
	assert.NilError(t, err)
	err = out.Send(ctx, "propose", "hours worked 1")
	assert.NilError(t, err)

	in, err := company.Accept(ctx)
	assert.NilError(t, err)
	assert.Equal(t, in.Peer, "contractor")

	msg, err := in.Receive(ctx)
	assert.NilError(t, err)
	var body string
	assert.NilError(t, msg.Decode(&body))
	assert.Equal(t, body, "hours worked 1")

	err = in.Send(ctx, "countersign", nil)
	assert.NilError(t, err)
	reply, err := out.Receive(ctx)
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, "countersign")
}
