package blocksource

import (
	"errors"
	"fmt"
	"os"
)

// ErrEmptyResource is returned by Open for a zero-length file.
var ErrEmptyResource = errors.New("resource is empty")

// Open opens the file at path read-only. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist); a zero-length file returns
// ErrEmptyResource and no source.
func Open(path string) (*File, int64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open resource: %w", err)
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, 0, fmt.Errorf("stat resource: %w", err)
	}
	if st.Size() == 0 {
		_ = fh.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrEmptyResource, path)
	}
	return New(fh), st.Size(), nil
}
