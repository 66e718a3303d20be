package remover

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Remove deletes every path: directories recursively, anything else
// directly. A failure is recorded and the remaining paths are still
// attempted. The returned error joins all failures.
func Remove(fsys afero.Fs, paths []string, log logrus.FieldLogger) (removed int, err error) {
	var errs []error
	for _, p := range paths {
		info, serr := fsys.Stat(p)
		if serr != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", p, serr))
			continue
		}

		var rerr error
		if info.IsDir() {
			rerr = fsys.RemoveAll(p)
		} else {
			rerr = fsys.Remove(p)
		}
		if rerr != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, rerr))
			continue
		}

		removed++
		log.WithField("path", p).Debug("removed")
	}
	return removed, errors.Join(errs...)
}
