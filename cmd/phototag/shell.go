package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/chriskillpack/phototag/internal/bridge"
)

// Name of the single argument each command takes, if any.
var shellArgNames = map[string]string{
	bridge.CmdScanFolder:   "folderPath",
	bridge.CmdGenerateTags: "imagePath",
	bridge.CmdCheckOllama:  "",
}

const shellHelp = `commands:
  scan_folder <folder>
  generate_tags <image>
  check_ollama
  help
  exit`

// parseShellLine splits a line into the command and its JSON arguments.
// Everything after the command is the argument, so paths may contain spaces.
func parseShellLine(line string) (string, json.RawMessage, error) {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	argName, ok := shellArgNames[command]
	if !ok {
		return "", nil, fmt.Errorf("unknown command %q, try help", command)
	}
	if argName == "" {
		if rest != "" {
			return "", nil, fmt.Errorf("%s takes no arguments", command)
		}
		return command, nil, nil
	}
	if rest == "" {
		return "", nil, fmt.Errorf("usage: %s <path>", command)
	}

	args, err := json.Marshal(map[string]string{argName: rest})
	return command, args, err
}

// evalShellLine runs one line and writes its output to w. It returns io.EOF
// when the shell should exit.
func evalShellLine(ctx context.Context, b *bridge.Bridge, line string, w io.Writer) error {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case "exit", "quit":
		return io.EOF
	case "help":
		fmt.Fprintln(w, shellHelp)
		return nil
	}

	command, args, err := parseShellLine(line)
	if err != nil {
		fmt.Fprintln(w, err)
		return nil
	}
	result, err := b.Invoke(ctx, command, args)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func runShell(ctx context.Context, b *bridge.Bridge) error {
	completer := readline.NewPrefixCompleter(
		readline.PcItem(bridge.CmdScanFolder),
		readline.PcItem(bridge.CmdGenerateTags),
		readline.PcItem(bridge.CmdCheckOllama),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "phototag> ",
		AutoComplete: completer,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			break
		}
		if err := evalShellLine(ctx, b, line, rl.Stdout()); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
	}
	return nil
}
