package securefs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

// GetLogger returns the securefs module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// SecureFS resolves media-root-relative paths inside an os.Root sandbox.
// Symlinks and ".." components cannot escape the root.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64 // 0 = unlimited
}

// New opens baseDir as the sandbox root, creating it if needed.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}
	return &SecureFS{baseDir: absPath, root: root}, nil
}

// ValidateRelativePath cleans relPath and rejects absolute paths and
// upward traversal. Forward slashes are accepted on every platform.
func ValidateRelativePath(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("%w: path must be relative, got %q", ErrInvalidPath, relPath)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}
	return cleaned, nil
}

// ValidateRelativePath is the method form of the package function.
func (sfs *SecureFS) ValidateRelativePath(relPath string) (string, error) {
	return ValidateRelativePath(relPath)
}

// BaseDir returns the absolute media root.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// Abs returns the absolute path of a validated relative path. It is meant
// for handing paths to external tools; file access goes through the sandbox.
func (sfs *SecureFS) Abs(relPath string) (string, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(sfs.baseDir, rel), nil
}

// SetMaxReadFileSize limits ReadFile. Zero disables the limit.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// Open opens a file for reading.
func (sfs *SecureFS) Open(relPath string) (*os.File, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Open(rel)
}

// OpenFile opens a file with the given flags.
func (sfs *SecureFS) OpenFile(relPath string, flag int, perm os.FileMode) (*os.File, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.OpenFile(rel, flag, perm)
}

// Create creates or truncates a file, creating parent directories as needed.
func (sfs *SecureFS) Create(relPath string) (*os.File, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(rel); dir != "." {
		if err := sfs.root.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return sfs.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
}

// MkdirAll creates a directory and its parents.
func (sfs *SecureFS) MkdirAll(relPath string, perm os.FileMode) error {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	return sfs.root.MkdirAll(rel, perm)
}

// Remove removes a file or empty directory. A missing path is not an error.
func (sfs *SecureFS) Remove(relPath string) error {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if err := sfs.root.Remove(rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll removes a path and everything below it. The root itself
// cannot be removed.
func (sfs *SecureFS) RemoveAll(relPath string) error {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: refusing to remove the media root", ErrInvalidPath)
	}
	return sfs.root.RemoveAll(rel)
}

// Rename moves oldPath to newPath. Both must stay inside the root.
func (sfs *SecureFS) Rename(oldPath, newPath string) error {
	oldRel, err := ValidateRelativePath(oldPath)
	if err != nil {
		return err
	}
	newRel, err := ValidateRelativePath(newPath)
	if err != nil {
		return err
	}
	return sfs.root.Rename(oldRel, newRel)
}

// Stat returns file info for a path inside the root.
func (sfs *SecureFS) Stat(relPath string) (fs.FileInfo, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Stat(rel)
}

// Exists reports whether a path exists.
func (sfs *SecureFS) Exists(relPath string) (bool, error) {
	_, err := sfs.Stat(relPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ReadDir lists a directory sorted by name.
func (sfs *SecureFS) ReadDir(relPath string) ([]fs.DirEntry, error) {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return fs.ReadDir(sfs.root.FS(), filepath.ToSlash(rel))
}

// ReadFile reads a whole file, honoring the size limit.
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	file, err := sfs.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("failed to close file", logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}
	return io.ReadAll(file)
}

// WriteFileAtomic writes data to a temporary sibling and renames it into
// place, so readers never observe a partial file.
func (sfs *SecureFS) WriteFileAtomic(relPath string, data []byte) error {
	rel, err := ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return fmt.Errorf("failed to generate temp name: %w", err)
	}
	tmp := rel + ".tmp-" + hex.EncodeToString(suffix[:])

	f, err := sfs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", rel, err)
	}
	if err := sfs.root.Rename(tmp, rel); err != nil {
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", rel, err)
	}
	return nil
}

// Close releases the sandbox root.
func (sfs *SecureFS) Close() error {
	return sfs.root.Close()
}
