package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/EdgeKing810/kinesis-db/command"
	"github.com/EdgeKing810/kinesis-db/engine"
	"github.com/EdgeKing810/kinesis-db/format"
)

const historyFile = ".kinesis_history"

// lineReader adapts liner's prompt-at-a-time interface to the io.Reader
// command.NewParser expects.
type lineReader struct {
	line   *liner.State
	prompt string
	buf    *strings.Reader
}

func (lr *lineReader) Read(p []byte) (int, error) {
	for {
		if lr.buf == nil {
			s, err := lr.line.Prompt(lr.prompt)
			if err != nil {
				return 0, err
			}
			lr.line.AppendHistory(s)
			lr.buf = strings.NewReader(s + "\n")
		}
		n, err := lr.buf.Read(p)
		if err != nil {
			lr.buf = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, nil
	}
}

// Interact runs an interactive console session against e, loading and
// saving line history across runs.
func Interact(e *engine.Engine, kind format.Kind) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	RunCommands(e, command.NewParser(&lineReader{line: line, prompt: "kinesis> "}), os.Stdout, kind)

	if f, err := os.Create(historyFile); err != nil {
		fmt.Fprintf(os.Stderr, "kinesis: error writing history file, %s: %s\n", historyFile, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
