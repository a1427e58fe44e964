// Package storage provides the swappable filesystem backend used for
// persisted player state.
package storage

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// OsFs returns the operating system filesystem.
func OsFs() afero.Fs {
	return afero.NewOsFs()
}

// MemFs returns a volatile in-memory filesystem for tests.
func MemFs() afero.Fs {
	return afero.NewMemMapFs()
}

// GacheFs adapts an afero filesystem to the gache.FileSystem interface.
type GacheFs struct {
	Fs afero.Fs
}

// OpenFile opens a file on the wrapped filesystem.
func (g GacheFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return g.Fs.OpenFile(name, flag, perm)
}

// MkdirAll creates a directory on the wrapped filesystem.
func (g GacheFs) MkdirAll(path string, perm os.FileMode) error {
	return g.Fs.MkdirAll(path, perm)
}
