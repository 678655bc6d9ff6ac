package config

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"HTTP_ADDR", "GRPC_ADDR", "MYSQL_DSN", "DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"REDIS_ADDR", "LOG_LEVEL", "TRACE_STDOUT", "REQUEST_TIMEOUT",
	"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "MIGRATE", "SEED",
}

func clearEnv(t *testing.T) {
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Empty(t, cfg.MySQLDSN)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 50, cfg.MaxOpenConns)
	assert.False(t, cfg.Migrate)
	assert.False(t, cfg.Seed)
}

func TestFromEnv_DSNFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "shop")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("DB_NAME", "storefront")

	cfg, err := FromEnv()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(cfg.MySQLDSN)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "shop", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "storefront", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestFromEnv_ExplicitDSNWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true")
	t.Setenv("DB_HOST", "ignored")

	cfg, err := FromEnv()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(cfg.MySQLDSN)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3306", parsed.Addr)
	assert.Equal(t, "storefront", parsed.DBName)
}

func TestFromEnv_ExplicitDSNForcesParseTime(t *testing.T) {
	clearEnv(t)
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?timeout=5s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(cfg.MySQLDSN)
	require.NoError(t, err)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "root", parsed.User)
	assert.Equal(t, 5*time.Second, parsed.Timeout)
}

func TestFromEnv_MalformedDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)storefront")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REQUEST_TIMEOUT", "250ms")
	t.Setenv("MIGRATE", "true")
	t.Setenv("SEED", "1")
	t.Setenv("TRACE_STDOUT", "yes")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACE_STDOUT")

	t.Setenv("TRACE_STDOUT", "true")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.True(t, cfg.Migrate)
	assert.True(t, cfg.Seed)
	assert.True(t, cfg.TraceStdout)
}

func TestFromEnv_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_MAX_OPEN_CONNS", "-3")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_OPEN_CONNS")
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
}
