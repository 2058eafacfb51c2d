// Package atomicwrite escribe archivos chicos (keys, configs generadas) sin
// dejar nunca un archivo a medio escribir: tmp en el mismo dir, fsync, rename.
package atomicwrite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrExists = errors.New("atomicwrite: destination already exists")

type Options struct {
	// Perm del archivo final. Default 0600: lo usamos para material secreto.
	Perm fs.FileMode
	// NoClobber falla con ErrExists si path ya existe. Pisar una key de
	// secretbox deja ilegibles todos los secretos sellados con ella.
	NoClobber bool
}

func WriteFile(path string, data []byte, opt Options) (err error) {
	if opt.Perm == 0 {
		opt.Perm = 0o600
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := tmp.Chmod(opt.Perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if opt.NoClobber {
		// link(2) no pisa: falla si el destino existe
		if err := os.Link(tmpPath, path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return ErrExists
			}
			return fmt.Errorf("link: %w", err)
		}
		return nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
