package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

func TestMover_Process(t *testing.T) {
	log, err := logger.New("", logger.LevelError, false)
	require.NoError(t, err)

	tempRoot := t.TempDir()
	outDir := t.TempDir()

	jobDir := filepath.Join(tempRoot, "job1")
	require.NoError(t, os.MkdirAll(jobDir, 0755))

	var files []string
	for _, name := range []string{"a.rar", "a.par2"} {
		path := filepath.Join(jobDir, name)
		require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0644))
		files = append(files, path)
	}

	m := NewMover(outDir, log)
	err = m.Process(context.Background(), domain.Completion{
		JobID: "job1",
		Dir:   jobDir,
		Files: files,
	})
	require.NoError(t, err)

	for _, name := range []string{"a.rar", "a.par2"} {
		data, err := os.ReadFile(filepath.Join(outDir, "job1", name))
		require.NoError(t, err)
		assert.Equal(t, []byte("content of "+name), data)
	}

	_, err = os.Stat(jobDir)
	assert.True(t, os.IsNotExist(err), "temp job dir is cleaned up")
}

func TestMover_CancelledContext(t *testing.T) {
	log, err := logger.New("", logger.LevelError, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMover(t.TempDir(), log)
	err = m.Process(ctx, domain.Completion{
		JobID: "job2",
		Dir:   t.TempDir(),
		Files: []string{"/nonexistent/file"},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMoveFile_CopyFallbackTarget(t *testing.T) {
	// Same filesystem here, but the rename path and the content must hold
	// either way.
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, moveFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
