package il

import (
	"fmt"
	"io"

	"j5.nz/gkc/backend"
	"j5.nz/gkc/ir"
)

// irDump writes the reachable methods of the backend context, kernel
// first, in the IR text format.
func irDump(w io.Writer, bctx *backend.BackendContext) error {
	methods := bctx.Methods()
	if _, err := fmt.Fprintf(w, "; gkc IL module, kernel %q, %d method(s)\n\n",
		bctx.Kernel.Name, len(methods)); err != nil {
		return err
	}
	for _, m := range methods {
		if err := ir.DumpMethod(w, m); err != nil {
			return err
		}
	}
	return nil
}
