package eventloop

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhiw/bitcask/internal/store"
)

func newTestLoop(t *testing.T, input string) (*Loop, *bytes.Buffer) {
	t.Helper()

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)

	var out bytes.Buffer
	loop := New(s,
		WithIO(strings.NewReader(input), &out),
		WithAutoMergeInterval(time.Hour),
	)
	return loop, &out
}

func TestRunProcessesInsertGetDelete(t *testing.T) {
	loop, out := newTestLoop(t, "insert foo bar\nget foo\ndelete foo\nget foo\nexit\n")

	code := loop.Run()
	require.Equal(t, 0, code)

	output := out.String()
	require.Contains(t, strings.ToLower(output), "inserted")
	require.Contains(t, output, "foo: bar")
	require.Contains(t, strings.ToLower(output), "deleted")
	require.Contains(t, strings.ToLower(output), "not found")
}

func TestRunExitsCleanlyOnEOF(t *testing.T) {
	loop, _ := newTestLoop(t, "insert foo bar\n")

	code := loop.Run()
	require.Equal(t, 0, code)
}

func TestRunReportsUnknownCommand(t *testing.T) {
	loop, out := newTestLoop(t, "frobnicate\nexit\n")

	code := loop.Run()
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "unknown command")
}

func TestRunHandlesQuotedInsertValue(t *testing.T) {
	loop, out := newTestLoop(t, `insert k "two words"`+"\nget k\nexit\n")

	code := loop.Run()
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "k: two words")
}

func TestRunMergeCommand(t *testing.T) {
	loop, out := newTestLoop(t, "insert a 1\nmerge\nstats\nexit\n")

	code := loop.Run()
	require.Equal(t, 0, code)
	require.Contains(t, strings.ToLower(out.String()), "merge complete")
	require.Contains(t, out.String(), "files")
}
