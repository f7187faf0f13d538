package cli

import (
	"fmt"
	"io"
)

// IO bundles the streams a command reads from and writes to, so commands
// stay testable without touching os.Stdout directly.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Println writes to the output stream.
func (o *IO) Println(args ...any) {
	_, _ = fmt.Fprintln(o.Out, args...)
}

// Printf writes a formatted line to the output stream.
func (o *IO) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.Out, format, args...)
}

// Print writes to the output stream.
func (o *IO) Print(args ...any) {
	_, _ = fmt.Fprint(o.Out, args...)
}

// Errorln writes to the error stream.
func (o *IO) Errorln(args ...any) {
	_, _ = fmt.Fprintln(o.Err, args...)
}
