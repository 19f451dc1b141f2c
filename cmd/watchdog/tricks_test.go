package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTricksConfig_DecodesLogAndShellCommandEntries(t *testing.T) {
	raw := []byte(`
directory: /srv/app
recursive: true
tricks:
  - type: log
  - type: shell-command
    options:
      command: 'echo "${watch_src_path}"'
      wait: true
`)

	var cfg tricksConfig
	require.NoError(t, yaml.Unmarshal(raw, &cfg))

	require.Equal(t, "/srv/app", cfg.Directory)
	require.True(t, cfg.Recursive)
	require.Len(t, cfg.Tricks, 2)
	require.Equal(t, "log", cfg.Tricks[0].Type)
	require.Equal(t, "shell-command", cfg.Tricks[1].Type)
	require.Equal(t, `echo "${watch_src_path}"`, cfg.Tricks[1].Options["command"])
	require.Equal(t, true, cfg.Tricks[1].Options["wait"])
}

func TestTrickFactories_UnknownTypeIsNotRegistered(t *testing.T) {
	_, ok := trickFactories["does-not-exist"]
	require.False(t, ok)
}

func TestTrickFactories_LogAndShellCommandBuildHandlers(t *testing.T) {
	for name := range map[string]struct{}{"log": {}, "shell-command": {}} {
		factory, ok := trickFactories[name]
		require.True(t, ok, name)
		h, err := factory(map[string]any{"command": "echo hi"}, nil)
		require.NoError(t, err)
		require.NotNil(t, h)
	}
}
