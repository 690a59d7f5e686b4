package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWordCount(t *testing.T) {
	path := writeTempFile(t, "words.txt", "The cat, the dog.\nthe end of the cat\n")

	out, err := execute(t, "wordcount", "--top", "2", path)
	require.NoError(t, err)
	require.Equal(t, "4\tthe\n2\tcat\n", out)
}

func TestWordCountErrors(t *testing.T) {
	_, err := execute(t, "wordcount", "--top", "0", "ignored")
	require.ErrorContains(t, err, "--top must be positive")

	_, err = execute(t, "wordcount", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, "wordcount")
	require.Error(t, err)
}

func TestGrep(t *testing.T) {
	path := writeTempFile(t, "lines.txt", "alpha\nbeta\nalphabet\ngamma\n")

	out, err := execute(t, "grep", "-n", "alpha", path)
	require.NoError(t, err)
	require.Equal(t, "1:alpha\n3:alphabet\n", out)

	out, err = execute(t, "grep", "--max-count", "1", "alpha", path)
	require.NoError(t, err)
	require.Equal(t, "alpha\n", out)

	out, err = execute(t, "grep", "delta", path)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestTicks(t *testing.T) {
	out, err := execute(t, "ticks", "--interval", "5ms", "--count", "3")
	require.NoError(t, err)
	require.Equal(t, "tick 1\ntick 2\ntick 3\n", out)

	_, err = execute(t, "ticks", "--interval", "0s")
	require.ErrorContains(t, err, "--interval must be positive")
}

func TestRootFlagsReachConfig(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "ticks", "--count", "1", "--interval", "1ms")
	require.ErrorContains(t, err, "unknown log level: loud")

	_, err = execute(t, "--max-input-buffer-size", "1", "ticks", "--count", "1", "--interval", "1ms")
	require.ErrorContains(t, err, "invalid materializer config")
}

func TestConfigFile(t *testing.T) {
	path := writeTempFile(t, "flow.yaml", "flow:\n  log:\n    format: xml\n")

	_, err := execute(t, "--config", path, "ticks", "--count", "1", "--interval", "1ms")
	require.ErrorContains(t, err, "config 'flow.log.format' must be 'json' or 'text'")
}

func TestTopWords(t *testing.T) {
	counts := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}
	require.Equal(t, []wordCount{{"c", 5}, {"a", 2}, {"b", 2}}, topWords(counts, 3))
	require.Len(t, topWords(counts, 10), 4)
}
