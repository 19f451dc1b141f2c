// The tricks subcommand loads a YAML file naming one or more handlers
// ("tricks") to schedule against a directory. Each entry names a handler
// type from a small registry plus the options that type understands.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gorakhargosh/watchdog/pkg/handler"
	"github.com/gorakhargosh/watchdog/pkg/logger"
)

// trickConfig is one entry of a tricksConfig.Tricks list: a named handler
// type plus whatever options that type's factory understands.
type trickConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// tricksConfig is the YAML document the tricks subcommand reads.
type tricksConfig struct {
	Directory string        `yaml:"directory"`
	Recursive bool          `yaml:"recursive"`
	Polling   bool          `yaml:"polling"`
	Tricks    []trickConfig `yaml:"tricks"`
}

// trickFactory builds a handler.Handler from a trick's options. The
// registry below covers the tricks this CLI ships.
type trickFactory func(opts map[string]any, log *logger.ColorLogger) (handler.Handler, error)

var trickFactories = map[string]trickFactory{
	"log": func(_ map[string]any, log *logger.ColorLogger) (handler.Handler, error) {
		return handler.NewLoggingHandler(log), nil
	},
	"shell-command": func(opts map[string]any, log *logger.ColorLogger) (handler.Handler, error) {
		command, _ := opts["command"].(string)
		wait, _ := opts["wait"].(bool)
		return newShellCommandHandler(command, wait, log), nil
	},
}

func runTricks(log *logger.ColorLogger, args []string) error {
	fs := flag.NewFlagSet("tricks", flag.ExitOnError)
	file := fs.String("file", "tricks.yaml", "path to a tricks YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("tricks: %w", err)
	}

	var cfg tricksConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("tricks: invalid config %s: %w", *file, err)
	}
	if cfg.Directory == "" {
		cfg.Directory = "."
	}
	if len(cfg.Tricks) == 0 {
		return fmt.Errorf("tricks: %s names no tricks", *file)
	}

	w := &watchFlags{path: cfg.Directory, recursive: cfg.Recursive, polling: cfg.Polling}
	obs := w.newObserver(log)

	handlers := make([]handler.Handler, 0, len(cfg.Tricks))
	for _, t := range cfg.Tricks {
		factory, ok := trickFactories[t.Type]
		if !ok {
			return fmt.Errorf("tricks: unknown trick type %q", t.Type)
		}
		h, err := factory(t.Options, log)
		if err != nil {
			return fmt.Errorf("tricks: building %q: %w", t.Type, err)
		}
		handlers = append(handlers, h)
	}

	for _, h := range handlers[1:] {
		if _, err := obs.Schedule(h, w.path, w.recursive, nil); err != nil {
			return err
		}
	}
	return runUntilInterrupted(obs, w, handlers[0], log)
}
