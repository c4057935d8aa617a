package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/bigbag/ec-flash-tester/internal/console"
	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// replSettle is how long the REPL collects output after a command.
const replSettle = 300 * time.Millisecond

var replCommands = []string{
	protocol.CmdFlashInfo,
	protocol.CmdROSize,
	protocol.CmdFlashErase,
	protocol.CmdFlashWrite,
	protocol.CmdFlashRead,
	protocol.CmdReadWord,
	"exit",
}

// repl forwards typed lines to the EC console and prints what comes back.
type repl struct {
	console *console.Console
	liner   *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ec_flash_tester_history")
}

func (r *repl) Run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	fmt.Println("Type EC console commands, 'exit' to quit.")

	for {
		line, err := r.liner.Prompt("ec> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if line == "exit" || line == "quit" {
			return nil
		}

		if err := r.console.ECCommand(ctx, line); err != nil {
			return err
		}
		out, err := r.console.Collect(ctx, replSettle)
		if err != nil {
			return err
		}
		fmt.Print(strings.ReplaceAll(out, "\r", ""))
		if !strings.HasSuffix(out, "\n") {
			fmt.Println()
		}
	}
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	var matches []string
	for _, c := range replCommands {
		if strings.HasPrefix(c, line) {
			matches = append(matches, c)
		}
	}
	return matches
}
