package cli

import (
	"bytes"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/multimap"
)

func newExportCommand() *Command {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	sorted := flags.Bool("sort", false, "Sort each key's values bytewise")

	return &Command{
		Flags: flags,
		Usage: "export <map> <path> [--sort]",
		Short: "Write a map as Base64 records",
		Long: "Writes every entry of the map at <map> to the file at <path>,\n" +
			"one line per key: the Base64 key followed by its Base64 values,\n" +
			"TAB-separated.",
		Exec: func(o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("export takes exactly two arguments: %w", multimap.ErrInvalidArgument)
			}

			opts := multimap.ExportOptions{}
			if *sorted {
				opts.Less = func(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
			}

			return multimap.Export(args[0], args[1], opts)
		},
	}
}
