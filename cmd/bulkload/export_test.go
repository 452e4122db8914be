package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/crawl-dedup/internal/backend"
	"github.com/Sternrassler/crawl-dedup/internal/testutil"
	"github.com/Sternrassler/crawl-dedup/pkg/config"
)

func useStore(t *testing.T, fs *testutil.FakeStore) {
	t.Helper()
	orig := openBackends
	openBackends = func(context.Context, config.Config) (*backend.Backends, error) {
		return &backend.Backends{Collections: fs, KV: fs}, nil
	}
	t.Cleanup(func() { openBackends = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func readLines(t *testing.T, data string) []exportLine {
	t.Helper()
	var lines []exportLine
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		var l exportLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestPlan(t *testing.T) {
	fs := testutil.NewFakeStore()
	fs.Seed("c", testutil.Sequence("c", 250))
	useStore(t, fs)

	out, err := execute(t, "plan", "-c", "c", "--batch-size", "100", "--offset", "50", "--limit", "150")
	require.NoError(t, err)

	assert.Equal(t, "c#0[50,+50)\nc#1[100,+100)\n2 batches, up to 150 records\n", out)
	assert.Equal(t, 0, fs.FetchCount("c"))
}

func TestPlan_InvalidScope(t *testing.T) {
	useStore(t, testutil.NewFakeStore())
	_, err := execute(t, "plan", "-c", "c", "--scope", "global")
	assert.Error(t, err)
}

func TestExport_Stdout(t *testing.T) {
	fs := testutil.NewFakeStore()
	fs.Seed("a", testutil.Sequence("a", 120))
	fs.Seed("b", testutil.Sequence("b", 30))
	useStore(t, fs)

	out, err := execute(t, "export", "-c", "a,b", "--batch-size", "25", "--no-resume", "--fields", "n")
	require.NoError(t, err)

	lines := readLines(t, out)
	require.Len(t, lines, 150)

	seen := map[string]map[int]bool{"a": {}, "b": {}}
	for _, l := range lines {
		assert.False(t, seen[l.Collection][l.Position], "duplicate %s@%d", l.Collection, l.Position)
		seen[l.Collection][l.Position] = true

		var rec map[string]int
		require.NoError(t, json.Unmarshal(l.Record, &rec))
		assert.Equal(t, map[string]int{"n": l.Position}, rec)
	}
	assert.Len(t, seen["a"], 120)
	assert.Len(t, seen["b"], 30)

	_, err = fs.Get(context.Background(), "bulkload:ledger")
	assert.Error(t, err, "--no-resume must not write a ledger")
}

func TestExport_ResumesFromLedger(t *testing.T) {
	fs := testutil.NewFakeStore()
	fs.Seed("c", testutil.Sequence("c", 250))
	fs.FailFetch = func(_ string, offset int) error {
		if offset == 100 {
			return errors.New("connection reset")
		}
		return nil
	}
	useStore(t, fs)

	outPath := filepath.Join(t.TempDir(), "export.ndjson")
	args := []string{"export", "-c", "c", "--batch-size", "100", "--concurrency", "1", "-o", outPath}

	_, err := execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	fs.FailFetch = nil
	fs.Reset()

	_, err = execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.FetchCount("c"), "the first batch should be skipped")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := readLines(t, string(data))
	require.Len(t, lines, 250)

	positions := make(map[int]bool, len(lines))
	for _, l := range lines {
		positions[l.Position] = true
	}
	assert.Len(t, positions, 250)
}

func TestExport_MissingCollections(t *testing.T) {
	useStore(t, testutil.NewFakeStore())
	_, err := execute(t, "export")
	assert.Error(t, err)
}

func TestOpenOutput_CloseErrorIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")

	_, closeOut, err := openOutput(&bytes.Buffer{}, path, true)
	require.NoError(t, err)
	require.NoError(t, closeOut())

	err = closeOut()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close output")

	_, closeStdout, err := openOutput(&bytes.Buffer{}, "-", true)
	require.NoError(t, err)
	assert.NoError(t, closeStdout())
}
