package httpserver

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	r   io.Reader
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, f.err
	}
	return n, err
}

func TestStoreFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Written", func(t *testing.T) {
		path := filepath.Join(dir, "ok.txt")
		require.NoError(t, storeFile(path, strings.NewReader("hello")))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))
	})

	t.Run("FailedCopyLeavesNothing", func(t *testing.T) {
		path := filepath.Join(dir, "partial.bin")
		cut := errors.New("connection reset")
		err := storeFile(path, &failingReader{r: strings.NewReader("half of it"), err: cut})
		assert.ErrorIs(t, err, cut)

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})
}
