package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	path := filepath.Join(dir, "swallow.toml")
	content := fmt.Sprintf(`
[storage]
root = %q
quarantine_seconds = 0
grace_period_seconds = 0

[database]
path = %q

[[pipelines]]
name = "Articles"
kinds = ["json", "xml"]
ledger = true
`, root, filepath.Join(dir, "swallow.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, root
}

func TestInitRunClean(t *testing.T) {
	path, root := writeTestConfig(t)
	input := filepath.Join(root, "articles", "input")
	done := filepath.Join(root, "articles", "done")

	out := execute(t, "--config", path, "init")
	assert.Contains(t, out, input)
	assert.DirExists(t, filepath.Join(root, "articles", "duplicate"))

	require.NoError(t, os.WriteFile(filepath.Join(input, "a.json"), []byte(`{"title": "Article Ski"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "b.xml"), []byte(`<broken>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "notes.txt"), []byte("ignored"), 0o644))

	out = execute(t, "--config", path, "run", "articles")
	assert.Contains(t, out, "Discovered")
	assert.FileExists(t, filepath.Join(done, "a.json"))
	assert.FileExists(t, filepath.Join(root, "articles", "error", "b.xml"))
	assert.FileExists(t, filepath.Join(input, "notes.txt"))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(done, "a.json"), old, old))

	out = execute(t, "--config", path, "clean", "Articles", "--dirs", "done", "--age", "3600")
	assert.Contains(t, out, filepath.Join(done, "a.json")+" is to be deleted")
	assert.NoFileExists(t, filepath.Join(done, "a.json"))
}

func TestConfigShow(t *testing.T) {
	path, root := writeTestConfig(t)
	out := execute(t, "--config", path, "config", "show")
	assert.Contains(t, out, "# loaded from "+path)
	assert.Contains(t, out, fmt.Sprintf("root = %q", root))
	assert.Contains(t, out, `name = "Articles"`)
}

func TestUnknownPipeline(t *testing.T) {
	path, _ := writeTestConfig(t)
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--config", path, "init", "missing"})
	assert.ErrorContains(t, rootCmd.Execute(), "unknown pipeline")
}
