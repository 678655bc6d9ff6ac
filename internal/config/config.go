// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// MySQLDSN is empty when no database is configured; the server then
	// runs on in-memory storage.
	MySQLDSN        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// RedisAddr is empty when idempotency keys stay in process memory.
	RedisAddr string

	LogLevel       string
	TraceStdout    bool
	RequestTimeout time.Duration

	Migrate bool
	Seed    bool
}

// Load reads the environment after applying an optional .env file.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var errs []string

	cfg := Config{
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:  getenv("GRPC_ADDR", ":50051"),
		RedisAddr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		LogLevel:  getenv("LOG_LEVEL", "info"),
	}

	cfg.MySQLDSN = mysqlDSN(&errs)
	cfg.MaxOpenConns = intVar("DB_MAX_OPEN_CONNS", 50, &errs)
	cfg.MaxIdleConns = intVar("DB_MAX_IDLE_CONNS", 25, &errs)
	cfg.ConnMaxLifetime = durationVar("DB_CONN_MAX_LIFETIME", 5*time.Minute, &errs)
	cfg.RequestTimeout = durationVar("REQUEST_TIMEOUT", 5*time.Second, &errs)
	cfg.TraceStdout = boolVar("TRACE_STDOUT", false, &errs)
	cfg.Migrate = boolVar("MIGRATE", false, &errs)
	cfg.Seed = boolVar("SEED", false, &errs)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// mysqlDSN prefers MYSQL_DSN and otherwise assembles one from the
// DB_HOST, DB_USER, DB_PASSWORD and DB_NAME variables. Either way the DSN
// has parseTime enabled, since timestamps are scanned into time.Time.
func mysqlDSN(errs *[]string) string {
	if dsn := strings.TrimSpace(os.Getenv("MYSQL_DSN")); dsn != "" {
		c, err := mysql.ParseDSN(dsn)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("MYSQL_DSN is malformed: %v", err))
			return ""
		}
		c.ParseTime = true
		return c.FormatDSN()
	}

	host := strings.TrimSpace(os.Getenv("DB_HOST"))
	if host == "" {
		return ""
	}
	if !strings.Contains(host, ":") {
		host += ":3306"
	}

	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = host
	c.User = os.Getenv("DB_USER")
	c.Passwd = os.Getenv("DB_PASSWORD")
	c.DBName = os.Getenv("DB_NAME")
	c.ParseTime = true
	return c.FormatDSN()
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intVar(key string, fallback int, errs *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative integer", key))
		return fallback
	}
	return n
}

func durationVar(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive duration", key))
		return fallback
	}
	return d
}

func boolVar(key string, fallback bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a boolean", key))
		return fallback
	}
	return b
}
