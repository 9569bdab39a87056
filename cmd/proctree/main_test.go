package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/proctree/internal/output"
)

// pidReuseLog is a behavior log in which PID 2104 is recycled: 2624 is
// parented to the first 2104, and 2480/2420 to the second.
const pidReuseLog = `{"pid": 2104, "ppid": 364, "process_name": "first.exe", "command_line": "first.exe", "sequence": 0, "track": true}
{"pid": 2624, "ppid": 2104, "process_name": "sample.exe", "command_line": "sample.exe", "sequence": 1, "track": true}
{"pid": 2148, "ppid": 2624, "process_name": "cmd.exe", "command_line": "cmd.exe", "sequence": 2, "track": true}
{"pid": 2104, "ppid": 2148, "process_name": "second.exe", "command_line": "second.exe", "sequence": 3, "track": true}
{"pid": 2480, "ppid": 2104, "process_name": "a.exe", "command_line": "a.exe", "sequence": 4, "track": true}
{"pid": 2420, "ppid": 2104, "process_name": "b.exe", "command_line": "b.exe", "sequence": 5, "track": true}
`

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"proctree"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_ReplayStdin(t *testing.T) {
	stdout, _, err := runCLI(t, pidReuseLog, "--run-id", "task-1", "-")
	require.NoError(t, err)

	var roots []output.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &roots))
	require.Len(t, roots, 1)

	first := roots[0]
	assert.Equal(t, "first.exe", first.ProcessName)
	require.Len(t, first.Children, 1)
	sample := first.Children[0]
	require.Len(t, sample.Children, 1)
	cmd := sample.Children[0]
	require.Len(t, cmd.Children, 1)
	second := cmd.Children[0]
	assert.Equal(t, "second.exe", second.ProcessName)
	require.Len(t, second.Children, 2)
	assert.Equal(t, "a.exe", second.Children[0].ProcessName)
	assert.Equal(t, "b.exe", second.Children[1].ProcessName)
}

func TestRun_ReplayFileToTree(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "behavior.jsonl")
	out := filepath.Join(dir, "tree.txt")
	require.NoError(t, os.WriteFile(in, []byte(pidReuseLog), 0o600))

	stdout, _, err := runCLI(t, "", "-f", "tree", "-o", out, in)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "first.exe (2104)  first.exe\n"))
	assert.Contains(t, string(data), "      └─ second.exe (2104)  second.exe\n")
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	log := "garbage\n" +
		`{"pid": 10, "ppid": 1, "sequence": 5}` + "\n" +
		`{"pid": 11, "ppid": 10, "sequence": 4}` + "\n"

	stdout, stderr, err := runCLI(t, log, "--log-format", "json", "-")
	require.NoError(t, err)

	var roots []output.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &roots))
	require.Len(t, roots, 1)
	assert.Empty(t, roots[0].Children, "the out-of-order event is rejected")

	assert.Contains(t, stderr, "skipping behavior log line")
	assert.Contains(t, stderr, "event rejected")
}

func TestRun_SortReordersEvents(t *testing.T) {
	log := `{"pid": 11, "ppid": 10, "sequence": 4}` + "\n" +
		`{"pid": 10, "ppid": 1, "sequence": 3}` + "\n"

	stdout, _, err := runCLI(t, log, "--sort", "-")
	require.NoError(t, err)

	var roots []output.Record
	require.NoError(t, json.Unmarshal([]byte(stdout), &roots))
	require.Len(t, roots, 1)
	assert.Equal(t, uint32(10), roots[0].PID)
	require.Len(t, roots[0].Children, 1)
}

func TestRun_MissingInputFile(t *testing.T) {
	_, _, err := runCLI(t, "", filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.ErrorContains(t, err, "opening behavior log")
}

func TestRun_Version(t *testing.T) {
	stdout, _, err := runCLI(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "proctree dev")
}

func TestRun_Help(t *testing.T) {
	_, _, err := runCLI(t, "", "--help")
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestRun_PublishesToNATS(t *testing.T) {
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(10*time.Second))

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("reports.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	stdout, _, err := runCLI(t, pidReuseLog,
		"--run-id", "task-7",
		"--nats-url", ns.ClientURL(),
		"--nats-subject", "reports",
		"-",
	)
	require.NoError(t, err)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "reports.task-7", msg.Subject)
	assert.JSONEq(t, stdout, string(msg.Data))
}
