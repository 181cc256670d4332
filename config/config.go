package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务端与机器人客户端共用的运行配置，全部来自环境变量（可选 .env）
type Config struct {
	Host      string
	Port      int
	TickRate  int // 每秒广播次数
	SendQueue int // 每个连接的发送队列长度
	LogFile   string
	LogLevel  string
	StaticDir string
}

// Defaults 未设置环境变量时的默认值
func Defaults() Config {
	return Config{
		Port:      8080,
		TickRate:  60,
		SendQueue: 64,
		LogFile:   "app.log",
		LogLevel:  "debug",
		StaticDir: "web",
	}
}

// Load 先加载 .env（不存在则忽略），再读取环境变量覆盖默认值
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	cfg := Defaults()
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.StaticDir = getEnv("STATIC_DIR", cfg.StaticDir)

	var err error
	if cfg.Port, err = getInt("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.TickRate, err = getInt("TICK_RATE", cfg.TickRate); err != nil {
		return Config{}, err
	}
	if cfg.SendQueue, err = getInt("SEND_QUEUE", cfg.SendQueue); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("config: TICK_RATE %d out of range", c.TickRate)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("config: SEND_QUEUE must be positive, got %d", c.SendQueue)
	}
	return nil
}

// Addr 监听地址，如 ":8080"
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TickInterval 广播周期，60 TPS 约 16.7ms
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}
