package container_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	cfg.Storage.Driver = "memory"
	return cfg
}

func TestNewContainer(t *testing.T) {
	ctx := context.Background()
	ctr, err := container.NewContainer(ctx, testConfig(), "")
	require.NoError(t, err)
	require.NoError(t, ctr.Start(ctx))
	defer ctr.Close()

	assert.NotNil(t, ctr.DB())
	assert.Equal(t, "memory", string(ctr.BlobStore().Driver()))
	assert.NotNil(t, ctr.FormService())
	assert.NotNil(t, ctr.Hub())

	w := httptest.NewRecorder()
	ctr.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewContainer_CloseWithoutStart(t *testing.T) {
	ctr, err := container.NewContainer(context.Background(), testConfig(), "")
	require.NoError(t, err)
	assert.NoError(t, ctr.Close())
}

func TestNewContainer_BadStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "ftp"
	_, err := container.NewContainer(context.Background(), cfg, "")
	assert.Error(t, err)
}
