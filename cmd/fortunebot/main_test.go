package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortunebot/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInitThenValidate(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	for _, name := range []string{"fortunebot.yaml", "fortunebot.toml", "fortunebot.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			out, err := execute(t, "init", "-c", path)
			require.NoError(t, err)
			assert.Contains(t, out, "wrote "+path)

			_, err = execute(t, "init", "-c", path)
			require.ErrorIs(t, err, config.ErrExists)
			_, err = execute(t, "init", "-c", path, "--force")
			require.NoError(t, err)

			out, err = execute(t, "validate", "-c", path)
			require.NoError(t, err)
			assert.Contains(t, out, path+": ok")

			_, err = execute(t, "validate", "-c", path, "--require-token")
			assert.Error(t, err)
		})
	}
}

func TestValidateRejectsBadPluginSection(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := "telegram:\n  token: x\nplugins:\n  fortune:\n    enabled: true\n    config:\n      min_fortune: 50\n      max_fortune: 10\n  weather:\n    enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin fortune")
}

func TestValidateWarnsUnknownPlugin(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "")
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  weather:\n    enabled: true\n"), 0o600))

	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, `unknown plugin "weather"`)
}
