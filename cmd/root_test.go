package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/conf"
)

func TestRootCommand_Subcommands(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := RootCommand(&conf.Settings{})
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "sweep", "history", "config"})
}

func TestRootCommand_LoadsConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "mqtt:\n  password: hunter2\nsnooze:\n  maxcount: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings := &conf.Settings{Version: "1.2.3"}
	root := RootCommand(settings)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "dump", "--format", "yaml"})

	require.NoError(t, root.Execute())
	assert.Equal(t, 7, settings.Snooze.MaxCount)
	assert.Equal(t, "1.2.3", settings.Version, "build information survives loading")
	assert.Contains(t, out.String(), "maxcount: 7")
	assert.NotContains(t, out.String(), "hunter2")
}
