// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package main

import (
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// shell runs an interactive command loop.
func (t *tool) shell() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          t.dev.Name() + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    t.completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	t.out = rl.Stdout()
	for {
		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		if quit := t.handleLine(line); quit {
			return nil
		}
	}
}

// handleLine runs one shell line and reports whether the shell should
// exit.
func (t *tool) handleLine(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(t.out, usage)
		return false
	case "shell":
		return false
	}
	if err := t.exec(parts); err != nil {
		t.log.Error("command failed", "cmd", parts[0], "err", err)
	}
	return false
}

func (t *tool) completer() *readline.PrefixCompleter {
	var paths []readline.PrefixCompleterInterface
	for _, r := range t.dev.Registers() {
		def := r.Def()
		paths = append(paths, readline.PcItem(def.Name))
		for _, f := range def.Fields {
			paths = append(paths, readline.PcItem(def.Name+"."+f.Name))
		}
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("dump"),
		readline.PcItem("read", paths...),
		readline.PcItem("write", paths...),
		readline.PcItem("reset"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}
