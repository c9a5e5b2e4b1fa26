//go:build !unix

package runner

import (
	"errors"
	"os"
)

func isPermissionErr(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
