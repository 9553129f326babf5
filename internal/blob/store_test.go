package blob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore 各驱动共用的行为测试
func exerciseStore(t *testing.T, store blob.Store) {
	ctx := context.Background()
	key := blob.NewKey("report.PDF")
	assert.True(t, strings.HasPrefix(key, blob.KeyPrefix))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	payload := []byte("%PDF-1.4 test")
	info, err := store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/pdf",
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(len(payload)), info.Size)

	_, err = store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{})
	assert.True(t, errors.Is(err, blob.ErrExists))

	got, rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, body)
	assert.Equal(t, "application/pdf", got.ContentType)

	head, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), head.Size)

	list, err := store.List(ctx, blob.KeyPrefix)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, key, list[0].Key)

	existed, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, err = store.Get(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound))
	_, err = store.Head(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound))
}

func TestMemoryStore(t *testing.T) {
	store := blob.NewMemory()
	assert.Equal(t, blob.DriverMemory, store.Driver())
	exerciseStore(t, store)
	assert.Equal(t, 0, store.Len())
}

func TestFilesystemStore(t *testing.T) {
	store, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, blob.DriverFilesystem, store.Driver())
	exerciseStore(t, store)
}

func TestFilesystemStore_RejectsTraversal(t *testing.T) {
	store, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", strings.NewReader("x"), blob.PutOptions{})
	assert.Error(t, err)
	_, err = store.Put(context.Background(), "/abs.txt", strings.NewReader("x"), blob.PutOptions{})
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

// TestFilesystemStore_PartialWrite 写入失败时不留下附件
func TestFilesystemStore_PartialWrite(t *testing.T) {
	store, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "forms/partial.txt", failingReader{}, blob.PutOptions{})
	require.Error(t, err)

	_, err = store.Head(context.Background(), "forms/partial.txt")
	assert.True(t, errors.Is(err, blob.ErrNotFound))
	list, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
