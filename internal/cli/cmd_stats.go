package cli

import (
	"fmt"

	"github.com/calvinalkan/multimap"
)

func newStatsCommand() *Command {
	return &Command{
		Usage: "stats <map>",
		Short: "Print total stats of a map",
		Long: "Reads the persisted per-partition stats of the map at <map>\n" +
			"and prints their aggregate. The map must not be open elsewhere.",
		Exec: func(o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stats takes exactly one argument: %w", multimap.ErrInvalidArgument)
			}

			stats, err := multimap.StatsOf(args[0])
			if err != nil {
				return err
			}

			printStats(o, multimap.TotalStats(stats))

			return nil
		},
	}
}

func printStats(o *IO, s multimap.Stats) {
	o.Println("{")
	o.Printf("  %q: %d,\n", "block_size", s.BlockSize)
	o.Printf("  %q: %d,\n", "num_blocks", s.NumBlocks)
	o.Printf("  %q: %d,\n", "num_keys_total", s.NumKeysTotal)
	o.Printf("  %q: %d,\n", "num_keys_valid", s.NumKeysValid)
	o.Printf("  %q: %d,\n", "num_values_total", s.NumValuesTotal)
	o.Printf("  %q: %d,\n", "num_values_valid", s.NumValuesValid)
	o.Printf("  %q: %d,\n", "key_size_min", s.KeySizeMin)
	o.Printf("  %q: %d,\n", "key_size_max", s.KeySizeMax)
	o.Printf("  %q: %d,\n", "key_size_avg", s.KeySizeAvg)
	o.Printf("  %q: %d,\n", "list_size_min", s.ListSizeMin)
	o.Printf("  %q: %d,\n", "list_size_max", s.ListSizeMax)
	o.Printf("  %q: %d\n", "list_size_avg", s.ListSizeAvg)
	o.Println("}")
}
