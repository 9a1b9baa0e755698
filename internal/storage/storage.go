// Package storage is the filesystem side of the capture workflow: mount
// detection for the durable target, metadata-preserving copies and
// tolerant removal of staging files.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Local implements the workflow's filesystem collaborator on the host filesystem.
type Local struct{}

func (Local) IsMounted(path string) bool       { return IsMounted(path) }
func (Local) Copy(src, dst string) error       { return CopyPreserving(src, dst) }
func (Local) Remove(path string) (bool, error) { return RemoveIfExists(path) }

// IsMounted reports whether path is a mount point: it lives on a different
// device than its parent, or it is its own parent (the root). Symlinks and
// paths that cannot be inspected are never mount points.
func IsMounted(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false
	}
	var parent unix.Stat_t
	if err := unix.Lstat(filepath.Join(path, ".."), &parent); err != nil {
		return false
	}
	if st.Dev != parent.Dev {
		return true
	}
	return st.Ino == parent.Ino
}

// CopyPreserving copies src to dst, then carries over the permission bits and
// the access/modification times. A partially written dst is removed.
func CopyPreserving(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy bytes: %w", err)
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod destination: %w", err)
	}
	if err = os.Chtimes(dst, accessTime(src, info), info.ModTime()); err != nil {
		return fmt.Errorf("set destination times: %w", err)
	}
	return nil
}

// RemoveIfExists deletes path. A missing file is not an error and reports false.
func RemoveIfExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
