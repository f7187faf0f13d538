// Package cli implements the multimap command line tool.
package cli

import (
	"errors"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/multimap"
)

// Version is the tool version printed by --version.
const Version = "1.0.0"

// Run is the main entry point. Returns the process exit code.
func Run(in io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	o := &IO{In: in, Out: out, Err: errOut}

	globalFlags := flag.NewFlagSet("multimap", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagVersion := globalFlags.Bool("version", false, "Show version")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		o.Errorln("error:", err)

		return 1
	}

	if *flagVersion {
		o.Println("multimap", Version)

		return 0
	}

	workDir := *flagCwd
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			o.Errorln("error:", err)

			return 1
		}
	}

	cfg, err := LoadConfig(workDir, env)
	if err != nil {
		o.Errorln("error:", err)

		return 1
	}

	commands := allCommands(cfg)

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(o, commands)

		if *flagHelp {
			return 0
		}

		return 1
	}

	name := commandAndArgs[0]

	for _, cmd := range commands {
		if cmd.Name() != name {
			continue
		}

		return runCommand(o, cmd, commandAndArgs[1:])
	}

	o.Errorln("error: unknown command:", name)
	printUsage(o, commands)

	return 1
}

func runCommand(o *IO, cmd *Command, args []string) int {
	if hasHelpFlag(args) {
		cmd.PrintHelp(o)

		return 0
	}

	if cmd.Flags != nil {
		cmd.Flags.Usage = func() {}
		cmd.Flags.SetOutput(&strings.Builder{})

		if err := cmd.Flags.Parse(args); err != nil {
			o.Errorln("error:", err)
			cmd.PrintHelp(o)

			return 1
		}

		args = cmd.Flags.Args()
	}

	if err := cmd.Exec(o, args); err != nil {
		o.Errorln("error:", err)

		return exitCode(err)
	}

	return 0
}

// exitCode maps error classes to distinct exit codes, so scripts can tell
// a missing map from a corrupt one.
func exitCode(err error) int {
	switch {
	case errors.Is(err, multimap.ErrNotFound):
		return 2
	case errors.Is(err, multimap.ErrAlreadyExists):
		return 3
	case errors.Is(err, multimap.ErrCorrupt), errors.Is(err, multimap.ErrIncompatible):
		return 4
	case errors.Is(err, multimap.ErrLocked):
		return 5
	default:
		return 1
	}
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" {
			return true
		}
	}

	return false
}

func allCommands(cfg Config) []*Command {
	return []*Command{
		newStatsCommand(),
		newImportCommand(cfg),
		newExportCommand(),
		newOptimizeCommand(),
		newShellCommand(),
	}
}

func printUsage(o *IO, commands []*Command) {
	o.Println("multimap - persistent one-to-many key-value store")
	o.Println()
	o.Println("Usage: multimap [-C dir] <command> [arguments]")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range commands {
		o.Println(cmd.HelpLine())
	}

	o.Println()
	o.Println("Run 'multimap <command> --help' for details.")
}
