package cli

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/multimap"
)

func newImportCommand(cfg Config) *Command {
	flags := flag.NewFlagSet("import", flag.ContinueOnError)
	create := flags.Bool("create", false, "Create the map if missing")
	blockSize := flags.Int("bs", cfg.BlockSize, "Block size for a newly created map")
	numShards := flags.Int("nshards", cfg.NumShards, "Shard count for a newly created map")

	return &Command{
		Flags: flags,
		Usage: "import <map> <path> [--create] [--bs N] [--nshards N]",
		Short: "Read Base64 records into a map",
		Long: "Reads Base64-encoded records from the file at <path>, or from\n" +
			"every file inside it if <path> is a directory, and puts them into\n" +
			"the map at <map>. Each line holds one key followed by its values.",
		Exec: func(o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("import takes exactly two arguments: %w", multimap.ErrInvalidArgument)
			}

			return multimap.Import(args[0], args[1], multimap.ImportOptions{
				CreateIfMissing: *create,
				BlockSize:       *blockSize,
				NumShards:       *numShards,
			})
		},
	}
}
