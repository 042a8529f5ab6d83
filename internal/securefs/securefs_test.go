package securefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSecureFS(t *testing.T) (sfs *SecureFS, tempDir string) {
	t.Helper()
	tempDir = t.TempDir()
	sfs, err := New(tempDir)
	require.NoError(t, err, "Failed to create SecureFS")
	t.Cleanup(func() { _ = sfs.Close() })
	return sfs, tempDir
}

func TestValidateRelativePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "recordings/a.wav", filepath.Join("recordings", "a.wav"), nil},
		{"inner dotdot", "recordings/../models/x", "models/x", nil},
		{"escape", "../etc/passwd", "", ErrPathTraversal},
		{"nested escape", "a/../../b", "", ErrPathTraversal},
		{"absolute", "/etc/passwd", "", ErrInvalidPath},
		{"empty", "", "", ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateRelativePath(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestWriteFileAtomicAndRead(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.WriteFileAtomic("spectrograms/1_0_500.png", []byte("png")))

	data, err := os.ReadFile(filepath.Join(tempDir, "spectrograms", "1_0_500.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	entries, err := sfs.ReadDir("spectrograms")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file must not linger")

	got, err := sfs.ReadFile("spectrograms/1_0_500.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadFileWithSizeLimit(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)
	sfs.SetMaxReadFileSize(4)

	require.NoError(t, sfs.WriteFileAtomic("big.bin", []byte("0123456789")))
	_, err := sfs.ReadFile("big.bin")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestSymlinkEscapeIsBlocked(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o600))
	if err := os.Symlink(outside, filepath.Join(tempDir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := sfs.Open("link/secret")
	assert.Error(t, err)
}

func TestExistsAndRemove(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	ok, err := sfs.Exists("nothing.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	f, err := sfs.Create("recordings/deep/a.wav")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err = sfs.Exists("recordings/deep/a.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sfs.Remove("recordings/deep/a.wav"))
	require.NoError(t, sfs.Remove("recordings/deep/a.wav"), "missing files are ignored")
	require.NoError(t, sfs.RemoveAll("recordings"))
	assert.Error(t, sfs.RemoveAll("."))
}

func TestRename(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.WriteFileAtomic("models/a.partial", []byte("model")))
	require.NoError(t, sfs.Rename("models/a.partial", "models/a.RData"))

	data, err := os.ReadFile(filepath.Join(tempDir, "models", "a.RData"))
	require.NoError(t, err)
	assert.Equal(t, "model", string(data))

	assert.ErrorIs(t, sfs.Rename("models/a.RData", "../escape"), ErrPathTraversal)
}
