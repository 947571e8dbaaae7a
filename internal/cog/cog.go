// Package cog groups related commands with the files, directories and
// background loops they depend on, and bootstraps all of it at startup.
package cog

import (
	"fmt"
	"os"
	"path/filepath"

	"guildbot/internal/command"
	"guildbot/internal/tasks"
)

// FileSpec is a data file a cog needs on disk, with the JSON container to
// install when the file does not exist yet.
type FileSpec struct {
	Path    string
	Default string
}

// Cog is one feature unit: its commands, the state files it owns and the
// loops it runs.
type Cog struct {
	Name       string
	Emoji      string
	ShowInHelp bool

	Dirs  []string
	Files []FileSpec

	Commands []*command.Command
	Loops    []*tasks.Loop

	// Setup runs after files and dirs exist but before commands register,
	// for work like re-registering dynamic commands from persisted state.
	Setup func(deps *command.Deps) error
}

// Bootstrap prepares every cog in order: directories, default files, setup
// hooks, command registration and loop scheduling. A failing cog aborts
// startup; a half-registered bot is worse than no bot.
func Bootstrap(cogs []*Cog, deps *command.Deps, runner *tasks.Runner) error {
	for _, c := range cogs {
		for _, dir := range c.Dirs {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("cog %s: create dir %s: %w", c.Name, dir, err)
			}
		}
		for _, f := range c.Files {
			if err := ensureFile(f); err != nil {
				return fmt.Errorf("cog %s: %w", c.Name, err)
			}
			if f.Default != "" && deps.Cache != nil {
				deps.Cache.RegisterDefault(f.Path, f.Default)
			}
		}
		if c.Setup != nil {
			if err := c.Setup(deps); err != nil {
				return fmt.Errorf("cog %s: setup: %w", c.Name, err)
			}
		}
		for _, cmd := range c.Commands {
			cmd.Cog = c.Name
			if err := deps.Reg.Register(cmd); err != nil {
				return fmt.Errorf("cog %s: %w", c.Name, err)
			}
		}
		for _, loop := range c.Loops {
			runner.Add(loop)
		}
	}
	return nil
}

func ensureFile(f FileSpec) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(f.Path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(f.Path, []byte(f.Default), 0o644)
}
