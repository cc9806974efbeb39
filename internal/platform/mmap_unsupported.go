//go:build !(linux || darwin)

package platform

import (
	"fmt"
	"runtime"
)

func errUnsupported() error {
	return fmt.Errorf("executable memory is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}

func MmapCodeSegment(size int) ([]byte, error) { return nil, errUnsupported() }

func MprotectRX(segment []byte) error { return errUnsupported() }

func MunmapCodeSegment(segment []byte) error { return errUnsupported() }
