package database_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/database"
	"github.com/mautops/formflow-gin/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildDSN 测试 DSN 生成
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "test",
		DBName:   "forms_test",
		SSLMode:  "disable",
	})
	assert.True(t, strings.Contains(dsn, "host=localhost"))
	assert.True(t, strings.Contains(dsn, "user=postgres"))
	assert.True(t, strings.Contains(dsn, "dbname=forms_test"))
}

// TestGetPoolConfig 测试连接池默认值
func TestGetPoolConfig(t *testing.T) {
	pool := database.GetPoolConfig(config.DatabaseConfig{MaxOpenConns: 20})
	assert.Equal(t, 20, pool.MaxOpenConns)
	assert.Equal(t, 10, pool.MaxIdleConns)
	assert.Equal(t, 3600, pool.ConnMaxLifetime)
	assert.Equal(t, 600, pool.ConnMaxIdleTime)
}

// TestConnectAndMigrate_SQLite 测试 sqlite 连接与迁移
func TestConnectAndMigrate_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}
	assert.True(t, database.IsMemorySQLite(cfg))

	db, err := database.Connect(cfg)
	require.NoError(t, err)
	defer database.Close(db)

	require.NoError(t, database.Migrate(db))
	// 重复迁移是幂等的
	require.NoError(t, database.Migrate(db))

	for _, table := range []string{"forms", "form_audit_entries", "templates", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("forms", "idx_forms_department_status"))
	assert.True(t, database.CheckHealth(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

// TestConnect_UnsupportedDriver 测试未知驱动
func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := database.Connect(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
	assert.False(t, database.CheckHealth(nil))
}

// TestGormLogger_IgnoresRecordNotFound 测试记录不存在时不输出错误日志
func TestGormLogger_IgnoresRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	out := logrus.StandardLogger().Out
	logrus.SetOutput(&buf)
	defer logrus.SetOutput(out)

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer database.Close(db)
	require.NoError(t, database.Migrate(db))
	buf.Reset()

	var m model.FormModel
	err = db.Where("id = ?", "missing").First(&m).Error
	require.Error(t, err)
	assert.Empty(t, buf.String())

	// 真正的错误仍然输出
	err = db.Raw("SELECT * FROM no_such_table").Scan(&m).Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), "no_such_table")
}
