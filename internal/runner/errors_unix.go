//go:build unix

package runner

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func isPermissionErr(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)
}
