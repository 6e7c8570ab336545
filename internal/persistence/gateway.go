// Package persistence reads and writes whole-file snapshots. It holds no
// state between calls and applies no business rules.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "playground/internal/errors"
)

const (
	// TempFilePrefix is the prefix used for temporary atomic write files.
	TempFilePrefix = ".snapshot-tmp-"

	filePerm = 0o600
	dirPerm  = 0o755
)

// Gateway is the file I/O contract consumed by the stores.
type Gateway interface {
	// ReadSnapshot returns the file contents or a not_found error.
	ReadSnapshot(ctx context.Context, path string) ([]byte, error)
	// WriteSnapshot replaces the file contents atomically.
	WriteSnapshot(ctx context.Context, path string, data []byte) error
	// CopyFile copies src to dst, creating dst's parent directory.
	CopyFile(ctx context.Context, src, dst string) error
}

// FileGateway implements Gateway on the local filesystem.
type FileGateway struct{}

var _ Gateway = FileGateway{}

// NewFileGateway returns a filesystem-backed gateway.
func NewFileGateway() FileGateway {
	return FileGateway{}
}

func (FileGateway) ReadSnapshot(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, err, "snapshot %s not found", path)
		}
		return nil, apperrors.IO(err, "read snapshot %s", path)
	}
	return data, nil
}

func (FileGateway) WriteSnapshot(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return apperrors.IO(err, "ensure snapshot directory")
	}
	if err := writeFileAtomic(path, data, filePerm); err != nil {
		return apperrors.IO(err, "write snapshot %s", path)
	}
	return nil
}

func (FileGateway) CopyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return apperrors.IO(err, "open %s", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return apperrors.IO(err, "ensure copy directory")
	}
	// O_EXCL: a copy never clobbers an existing file.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return apperrors.IO(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return apperrors.IO(err, "copy %s to %s", src, dst)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return apperrors.IO(err, "sync %s", dst)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return apperrors.IO(err, "close %s", dst)
	}
	return nil
}

// IsNotFound reports whether err is the gateway's missing-file error.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over filename.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(filename), TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), filename); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", filename, err)
	}
	return nil
}
