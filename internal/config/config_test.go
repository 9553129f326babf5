package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mautops/formflow-gin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, 5, cfg.Upload.MaxFiles)
	assert.Contains(t, cfg.Upload.AllowedExtensions, ".pdf")
	assert.Contains(t, cfg.Upload.AllowedMimeTypes, "application/pdf")
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_FromFile 测试从文件加载配置
func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/forms.db
storage:
  driver: memory
upload:
  max_files: 2
  allowed_extensions: [".pdf"]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2, cfg.Upload.MaxFiles)
	assert.Equal(t, []string{".pdf"}, cfg.Upload.AllowedExtensions)
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 8080\n")
	t.Setenv("APP_SERVER_PORT", "7070")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "s3"
	assert.Error(t, cfg.Validate())

	cfg.Storage.S3.Bucket = "forms"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Env = "production"
	assert.Error(t, cfg.Validate())
	cfg.Auth.JWTSecret = "prod-secret"
	assert.NoError(t, cfg.Validate())
}

// TestConfigWatcher_Reload 测试上传策略热更新
func TestConfigWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "upload:\n  max_files: 5\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path)
	var mu sync.Mutex
	var seen []int
	watcher.OnConfigChange(func(c *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.Upload.MaxFiles)
	})

	writeConfig(t, dir, "upload:\n  max_files: 3\n")
	require.NoError(t, watcher.Reload())

	mu.Lock()
	assert.Equal(t, []int{3}, seen)
	mu.Unlock()
	assert.Equal(t, 3, watcher.GetConfig().Upload.MaxFiles)

	// 非法配置不触发回调
	writeConfig(t, dir, "upload:\n  max_files: 0\n")
	assert.Error(t, watcher.Reload())
	assert.Equal(t, 3, watcher.GetConfig().Upload.MaxFiles)
}

// TestConfigWatcher_Stop 测试停止后不再回调
func TestConfigWatcher_Stop(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 8080\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path)
	called := false
	watcher.OnConfigChange(func(*config.Config) { called = true })
	watcher.Stop()

	writeConfig(t, dir, "server:\n  port: 9090\n")
	require.NoError(t, watcher.Reload())
	assert.False(t, called)
	assert.Equal(t, 8080, watcher.GetConfig().Server.Port)
}
