package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/multimap"
)

func newShellCommand() *Command {
	return &Command{
		Usage: "shell <map>",
		Short: "Open an interactive session on a map",
		Long: "Opens the map at <map> and reads commands from an interactive\n" +
			"prompt. Type 'help' inside the shell for the command list.",
		Exec: func(o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("shell takes exactly one argument: %w", multimap.ErrInvalidArgument)
			}

			m, err := multimap.Open(args[0], multimap.Options{CreateIfMissing: true})
			if err != nil {
				return err
			}

			defer func() { _ = m.Close() }()

			return runShell(o, m)
		},
	}
}

func runShell(o *IO, m *multimap.Map) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)

	o.Println("multimap shell - type 'help' for commands, 'exit' to quit")

	for {
		input, err := line.Prompt("multimap> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		fields := strings.Fields(input)

		done, err := execShellCommand(o, m, fields[0], fields[1:])
		if err != nil {
			o.Errorln("error:", err)
		}

		if done {
			return nil
		}
	}
}

func execShellCommand(o *IO, m *multimap.Map, name string, args []string) (bool, error) {
	switch name {
	case "exit", "quit", "q":
		return true, nil

	case "help":
		printShellHelp(o)

	case "put":
		if len(args) < 2 {
			return false, errors.New("usage: put <key> <value>...")
		}

		for _, value := range args[1:] {
			if err := m.Put([]byte(args[0]), []byte(value)); err != nil {
				return false, err
			}
		}

	case "get":
		if len(args) != 1 {
			return false, errors.New("usage: get <key>")
		}

		it, err := m.Get([]byte(args[0]))
		if err != nil {
			return false, err
		}

		defer it.Close()

		for it.HasNext() {
			value, err := it.Next()
			if err != nil {
				return false, err
			}

			o.Println(string(value))
		}

	case "len":
		if len(args) != 1 {
			return false, errors.New("usage: len <key>")
		}

		n, err := m.NumValues([]byte(args[0]))
		if err != nil {
			return false, err
		}

		o.Println(n)

	case "del":
		if len(args) != 1 {
			return false, errors.New("usage: del <key>")
		}

		removed, err := m.RemoveKey([]byte(args[0]))
		if err != nil {
			return false, err
		}

		o.Println(removed)

	case "rmv":
		if len(args) != 2 {
			return false, errors.New("usage: rmv <key> <value>")
		}

		n, err := m.RemoveValues([]byte(args[0]), multimap.Equal([]byte(args[1])))
		if err != nil {
			return false, err
		}

		o.Println(n)

	case "keys":
		err := m.ForEachKey(func(key []byte) {
			o.Println(string(key))
		})
		if err != nil {
			return false, err
		}

	case "stats":
		total, err := m.GetTotalStats()
		if err != nil {
			return false, err
		}

		printStats(o, total)

	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", name)
	}

	return false, nil
}

func printShellHelp(o *IO) {
	o.Println("Commands:")
	o.Println("  put <key> <value>...   Append values to a key")
	o.Println("  get <key>              Print all values of a key")
	o.Println("  len <key>              Count values of a key")
	o.Println("  del <key>              Remove a key")
	o.Println("  rmv <key> <value>      Remove matching values of a key")
	o.Println("  keys                   List all keys")
	o.Println("  stats                  Print total stats")
	o.Println("  exit / quit / q        Leave the shell")
}
