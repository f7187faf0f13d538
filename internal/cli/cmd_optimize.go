package cli

import (
	"bytes"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/multimap"
)

func newOptimizeCommand() *Command {
	flags := flag.NewFlagSet("optimize", flag.ContinueOnError)
	blockSize := flags.Int("bs", 0, "Block size of the rebuilt map (default: keep)")
	numShards := flags.Int("nshards", 0, "Shard count of the rebuilt map (default: keep)")
	sorted := flags.Bool("sort", false, "Sort each key's values bytewise")

	return &Command{
		Flags: flags,
		Usage: "optimize <map> <output> [--bs N] [--nshards N] [--sort]",
		Short: "Rebuild a map, dropping tombstones",
		Long: "Rebuilds the map at <map> into the directory at <output>,\n" +
			"dropping tombstoned records and defragmenting each key's blocks.\n" +
			"Block size, shard count, and value order may be changed on the way.",
		Exec: func(o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("optimize takes exactly two arguments: %w", multimap.ErrInvalidArgument)
			}

			opts := multimap.OptimizeOptions{
				BlockSize: *blockSize,
				NumShards: *numShards,
			}
			if *sorted {
				opts.Less = func(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
			}

			return multimap.Optimize(args[0], args[1], opts)
		},
	}
}
