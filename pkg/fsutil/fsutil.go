// Package fsutil provides the file-system helpers that make pipeline stages re-runnable:
// directory reset, alias creation that refuses to clobber, and atomic writes.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LinkConflictError reports an alias whose destination already exists.
type LinkConflictError struct {
	Source      string
	Destination string
}

func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("link destination already exists: %s (source %s)", e.Destination, e.Source)
}

// Unwrap lets errors.Is(err, fs.ErrExist) match.
func (e *LinkConflictError) Unwrap() error {
	return fs.ErrExist
}

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureEmptyDir creates path if it is absent, otherwise removes every child.
// Child directories are removed recursively; child symlinks are removed without
// touching what they point to.
func EnsureEmptyDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return EnsureDir(path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot empty %s: not a directory: %w", path, fs.ErrExist)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", path, err)
	}
	for _, entry := range entries {
		child := filepath.Join(path, entry.Name())
		if entry.Type()&fs.ModeSymlink != 0 || !entry.IsDir() {
			err = os.Remove(child)
		} else {
			err = os.RemoveAll(child)
		}
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", child, err)
		}
	}
	return nil
}

// CreateLink creates a symbolic link at dst pointing to src. The parent of dst is
// created if needed. An existing dst, including a dangling link, is a conflict.
func CreateLink(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return &LinkConflictError{Source: src, Destination: dst}
	}
	if err := os.Symlink(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &LinkConflictError{Source: src, Destination: dst}
		}
		return fmt.Errorf("failed to link %s -> %s: %w", dst, src, err)
	}
	return nil
}

// CopyFile copies src to dst, replacing dst atomically. The parent of dst is created
// if needed and the source permissions are preserved.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot copy %s: is a directory", src)
	}

	return writeAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// AtomicWriteFile writes data to a temporary file next to path and renames it into
// place, so readers never observe a partially written file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func writeAtomic(path string, perm os.FileMode, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = fill(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
