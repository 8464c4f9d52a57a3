//go:build !gcp

package bundle

import (
	"context"
	"errors"
)

// ErrGCSDisabled is returned when the gcs backend is selected in a build
// without the gcp tag.
var ErrGCSDisabled = errors.New("bundle: gcs backend requires the gcp build tag")

func newGCSStore(ctx context.Context, cfg StoreConfig) (ObjectStore, error) {
	return nil, ErrGCSDisabled
}
