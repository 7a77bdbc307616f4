package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pushstream", cmd.Use)

	for _, name := range []string{"run", "catchup", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, DefaultConfigPath, flag.DefValue)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))

	err := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "bad config", errors.New("missing token")))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "bad config: missing token")
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "pushstream "+Version))
}

func TestCatchUpCommand(t *testing.T) {
	for _, k := range []string{"PUSHBULLET_API_KEY", "PUSHBULLET_DEVICE_ID", "PUSHSTREAM_LOG_LEVEL"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pushes":[{"iden":"a","created":100,"body":"hi"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`pushbullet:
  token: tok
  device_id: D1
fetch:
  url: %s
storage:
  driver: file
  path: %s
desktop:
  enabled: false
logging:
  level: error
  console: false
systemd:
  notify: false
`, srv.URL, filepath.Join(dir, "pb"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"catchup", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "fetched=1 delivered=1 duplicates=0 skipped=0 watermark=100\n", out.String())
}

func TestCatchUpMissingCredentials(t *testing.T) {
	for _, k := range []string{"PUSHBULLET_API_KEY", "PUSHBULLET_DEVICE_ID"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"catchup", "--config", filepath.Join(t.TempDir(), "absent.json")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
