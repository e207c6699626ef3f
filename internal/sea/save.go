package sea

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Save serializes g to the named file: a header line followed by the text
// dump.
func Save(path string, g *Graph) (retErr error) {
	if g.Released() {
		return ErrReleased
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "sea: save graph")
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = errors.Wrapf(err, "sea: close %s", path)
		}
	}()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "; wasmsea graph %s: %d params, %d nodes, start %%%d\n",
		g.Name, g.NumParams, g.NumNodes(), g.Start())
	if err := Fprint(w, g); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "sea: write %s", path)
	}
	return nil
}
