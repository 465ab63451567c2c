package media

import (
	"fmt"

	"go.uber.org/multierr"
)

// UploadFailure describes one file of a batch that was skipped
type UploadFailure struct {
	Index int
	Name  string
	Err   error
}

func (f UploadFailure) Error() string {
	return fmt.Sprintf("file %d (%s): %v", f.Index, f.Name, f.Err)
}

func (f UploadFailure) Unwrap() error {
	return f.Err
}

// BatchError combines the failures of a batch into one error, nil when there are none
func BatchError(failures []UploadFailure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, f)
	}
	return err
}
