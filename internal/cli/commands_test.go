package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/config"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/peersync"
)

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// execute runs the root command against dataDir and returns stdout.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// executeJSON runs a command with JSON output and decodes its data into v.
func executeJSON(t *testing.T, dataDir string, v any, args ...string) {
	t.Helper()
	out, err := execute(t, dataDir, append([]string{"--format", "json"}, args...)...)
	require.NoError(t, err, out)
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	if v != nil {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInit_Idempotent(t *testing.T) {
	dir := t.TempDir()

	var first, second InitResult
	executeJSON(t, dir, &first, "init")
	executeJSON(t, dir, &second, "init")

	assert.True(t, first.KeyCreated)
	assert.False(t, second.KeyCreated)
	assert.Equal(t, first.Actor, second.Actor)
	assert.FileExists(t, filepath.Join(dir, "openprod.db"))

	out, err := execute(t, dir, "id")
	require.NoError(t, err)
	assert.Equal(t, first.Actor+"\n", out)
}

func TestCommands_RequireInit(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{{"id"}, {"hash"}, {"log"}, {"conflicts"}} {
		_, err := execute(t, dir, args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), args)
		assert.Contains(t, err.Error(), "openprod init")
	}
}

func TestCommitShowLogHashReplay(t *testing.T) {
	dir := t.TempDir()
	executeJSON(t, dir, nil, "init")

	script := writeScript(t, `
type: user_edit
ops:
  - {op: create_entity, entity: list-1}
  - {op: create_entity, entity: task-1}
  - {op: set_field, entity: task-1, field: title, value: "Write docs"}
  - {op: set_field, entity: task-1, field: rank, value: 3}
  - {op: attach_facet, entity: task-1, facet: review}
  - {op: create_ordered_edge, type: child, source: list-1, target: task-1, as: first}
`)
	var res CommitResult
	executeJSON(t, dir, &res, "commit", "-f", script)
	assert.Len(t, res.Bundle, 2*oplog.BundleIDSize)
	assert.Equal(t, 6, res.Operations)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, "first", res.Bindings[0].Name)

	var show struct {
		ID       string                     `json:"id"`
		Fields   map[string]json.RawMessage `json:"fields"`
		Facets   map[string]bool            `json:"facets"`
		Children []EdgeOutput               `json:"children"`
	}
	executeJSON(t, dir, &show, "show", "task-1")
	assert.Equal(t, "task-1", show.ID)
	assert.JSONEq(t, `"Write docs"`, string(show.Fields["title"]))
	assert.JSONEq(t, `3`, string(show.Fields["rank"]))
	assert.True(t, show.Facets["review"])

	executeJSON(t, dir, &show, "show", "list-1", "--edges", "child")
	require.Len(t, show.Children, 1)
	assert.Equal(t, "task-1", show.Children[0].Target)
	assert.Equal(t, res.Bindings[0].ID, show.Children[0].ID)

	text, err := execute(t, dir, "show", "task-1")
	require.NoError(t, err)
	assert.Contains(t, text, `title = "Write docs"`)
	assert.Contains(t, text, "facet review: attached")

	_, err = execute(t, dir, "show", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var log []LogEntry
	executeJSON(t, dir, &log, "log")
	require.Len(t, log, 1)
	assert.Equal(t, res.Bundle, log[0].Bundle)
	assert.Equal(t, "user_edit", log[0].Type)
	assert.Equal(t, 2, log[0].Creates)

	var conflicts []ConflictOutput
	executeJSON(t, dir, &conflicts, "conflicts")
	assert.Empty(t, conflicts)

	var hash HashResult
	executeJSON(t, dir, &hash, "hash")
	assert.Equal(t, 2, hash.Entities)
	assert.NotEmpty(t, hash.Hash)

	var replay ReplayResult
	executeJSON(t, dir, &replay, "replay", "--shuffles", "2")
	assert.True(t, replay.Deterministic)
	assert.Equal(t, hash.Hash, replay.Hash)
	assert.Equal(t, 1, replay.Bundles)
	assert.Len(t, replay.Orders, 4)
}

func TestCommit_Rejected(t *testing.T) {
	dir := t.TempDir()
	executeJSON(t, dir, nil, "init")
	script := writeScript(t, `
ops:
  - {op: create_entity, entity: task-1}
`)
	executeJSON(t, dir, nil, "commit", "-f", script)

	// Creating the same entity twice collides.
	_, err := execute(t, dir, "commit", "-f", script)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, string(oplog.CodeEntityCollision), ErrorCode(err))
}

func TestCommit_BadFile(t *testing.T) {
	dir := t.TempDir()
	executeJSON(t, dir, nil, "init")
	script := writeScript(t, "ops:\n  - {op: teleport}\n")

	_, err := execute(t, dir, "commit", "-f", script)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeAndSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dirA, dirB := t.TempDir(), t.TempDir()
	executeJSON(t, dirA, nil, "init")
	executeJSON(t, dirB, nil, "init")
	executeJSON(t, dirA, nil, "commit", "-f", writeScript(t, `
ops:
  - {op: create_entity, entity: task-1}
  - {op: set_field, entity: task-1, field: title, value: "from a"}
`))

	cfgB := config.Default()
	cfgB.DataDir = dirB
	rB, err := openReplica(ctx, cfgB)
	require.NoError(t, err)
	defer rB.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- serveListener(ctx, ln, rB, cfgB, slog.Default()) }()
	addr := ln.Addr().String()

	var rep peersync.Report
	executeJSON(t, dirA, &rep, "sync", addr)
	assert.Equal(t, 1, rep.Pushed)
	assert.True(t, rep.Converged)

	v, ok := rB.FieldValue("task-1", "title")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("from a"), v)

	// Concurrent writes on both sides surface as a conflict after sync.
	b := rB.NewBuilder(oplog.BundleUserEdit)
	b.SetField("task-1", "title", ir.IRString("from b"))
	_, _, err = rB.Commit(ctx, b)
	require.NoError(t, err)
	executeJSON(t, dirA, nil, "commit", "-f", writeScript(t, `
ops:
  - {op: set_field, entity: task-1, field: title, value: "from a again"}
`))

	executeJSON(t, dirA, &rep, "sync", addr)
	assert.Equal(t, 1, rep.Pulled)
	assert.Equal(t, 1, rep.Pushed)
	assert.True(t, rep.Converged)
	assert.False(t, rep.Divergent)

	var conflicts []ConflictOutput
	executeJSON(t, dirA, &conflicts, "conflicts")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "task-1", conflicts[0].Entity)
	assert.Equal(t, "title", conflicts[0].Field)
	assert.Len(t, conflicts[0].Tips, 2)
	assert.Len(t, rB.Conflicts(), 1)

	var hash HashResult
	executeJSON(t, dirA, &hash, "hash")
	hB, err := rB.StateHash()
	require.NoError(t, err)
	assert.Equal(t, hB, hash.Hash)

	cancel()
	require.NoError(t, <-done)
}

func TestSync_Unreachable(t *testing.T) {
	dir := t.TempDir()
	executeJSON(t, dir, nil, "init")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = execute(t, dir, "sync", addr)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
