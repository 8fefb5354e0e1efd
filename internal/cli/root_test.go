package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config file pointing at baseURL with a fresh database.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trackq.yaml")
	content := fmt.Sprintf(`base_url: %s
project_id: cli-project
authorization: Token cli
max_tries: 2
flush_mode: immediate
request_timeout: 2s
database_path: %s
log:
  level: error
  format: text
`, baseURL, filepath.Join(dir, "queue.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "trackq", cmd.Use)
	assert.Contains(t, cmd.Long, "SQLite")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"track"},
		{"flush"},
		{"queue", "list"},
		{"queue", "clear"},
		{"serve"},
		{"test"},
		{"config", "validate"},
		{"config", "show"},
	}

	for _, path := range commands {
		t.Run(fmt.Sprint(path), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestTrackCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	trackCmd, _, err := cmd.Find([]string{"track"})
	require.NoError(t, err)

	routeFlag := trackCmd.Flags().Lookup("route")
	require.NotNil(t, routeFlag)
	assert.Equal(t, "customer_event", routeFlag.DefValue)

	for _, name := range []string{"type", "customer", "prop", "payload", "url", "flush"} {
		assert.NotNil(t, trackCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	listenFlag := serveCmd.Flags().Lookup("listen")
	require.NotNil(t, listenFlag)
	assert.Equal(t, "", listenFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
