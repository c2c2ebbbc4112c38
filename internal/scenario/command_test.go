package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() backend.BoundEnv {
	return backend.BoundEnv{
		EndpointURL: "http://localhost:8014",
		AccessKey:   "AKEXAMPLES3S",
		SecretKey:   "SKEXAMPLES3S",
		Region:      "us-east-1",
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scenario.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCommandCapturesOutput(t *testing.T) {
	c := &Command{Path: writeScript(t, "echo PASS: reachable\nexit 0\n")}

	out, err := c.Run(context.Background(), testEnv())
	require.NoError(t, err)
	assert.Contains(t, out, "PASS: reachable")
}

func TestCommandInjectsEnvironment(t *testing.T) {
	c := &Command{Path: writeScript(t,
		"echo endpoint=$AWS_ENDPOINT_URL\n"+
			"echo access=$AWS_ACCESS_KEY_ID\n"+
			"echo region=$DEFAULT_REGION\n")}

	out, err := c.Run(context.Background(), testEnv())
	require.NoError(t, err)
	assert.Contains(t, out, "endpoint=http://localhost:8014")
	assert.Contains(t, out, "access=AKEXAMPLES3S")
	assert.Contains(t, out, "region=us-east-1")
}

func TestCommandNonZeroExitIsFailure(t *testing.T) {
	c := &Command{Path: writeScript(t, "echo FAIL: assertion\nexit 1\n")}

	out, err := c.Run(context.Background(), testEnv())
	require.Error(t, err)
	assert.Contains(t, out, "FAIL: assertion", "output is still captured on failure")
}

func TestCommandTimeout(t *testing.T) {
	c := &Command{
		Path:    writeScript(t, "sleep 30\n"),
		Timeout: 200 * time.Millisecond,
	}

	start := time.Now()
	_, err := c.Run(context.Background(), testEnv())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandName(t *testing.T) {
	c := &Command{Path: "/opt/scenarios/repro_984.py"}
	assert.Equal(t, "repro_984.py", c.Name())
}
