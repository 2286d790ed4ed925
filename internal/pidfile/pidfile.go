// Package pidfile guards against two testers driving the same operator
// account on the same network.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gateway-fm/tvt/pkg/types"
)

// ErrRunning is returned when the pid file for an operator already exists.
var ErrRunning = errors.New("another instance is running for this operator")

// File is an acquired pid file.
type File struct {
	path string
}

// Path returns the pid file location for operatorID on network.
func Path(dir, operatorID string, network types.Network) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.pid", operatorID, network))
}

// Acquire creates the pid file exclusively and writes the current pid.
func Acquire(dir, operatorID string, network types.Network) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create pid dir: %w", err)
	}
	path := Path(dir, operatorID, network)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunning, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create pid file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Release removes the pid file. A missing file is not an error.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
