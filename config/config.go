package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with
// sensible defaults for local development.
type Config struct {
	ServerAddr string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// 事件总线后端: "local" 单实例内存总线, "redis" 跨实例 Pub/Sub
	BusBackend string

	JWTSecret string

	// 日志配置
	LogLevel string
	LogPath  string

	// 直播轮次的时间参数（全部为秒，墙钟时间）
	DefaultTrackSec   int // 曲目缺少时长时的兜底播放时长
	VoteWindowSec     int // 一轮投票窗口的长度
	VoteCloseEarlySec int // 下一窗口相对曲目结束时间的提前量
	StateTTLHours     int // 闲置事件状态在 Redis 中的存活时长
	CandidateCount    int // 每轮投票的候选曲目数（取队列头部）
	QueueMaxLen       int // 队列保留上限，超出从头部裁剪
	TickIntervalSec   int // ticker 的重估周期
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		BusBackend: getEnv("BUS_BACKEND", "local"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),

		DefaultTrackSec:   getEnvInt("DEFAULT_TRACK_SEC", 180),
		VoteWindowSec:     getEnvInt("VOTE_WINDOW_SEC", 20),
		VoteCloseEarlySec: getEnvInt("VOTE_CLOSE_EARLY_SEC", 30),
		StateTTLHours:     getEnvInt("STATE_TTL_HOURS", 12),
		CandidateCount:    getEnvInt("CANDIDATE_COUNT", 4),
		QueueMaxLen:       getEnvInt("QUEUE_MAX_LEN", 200),
		TickIntervalSec:   getEnvInt("TICK_INTERVAL_SEC", 1),
	}
}

// StateTTL returns the idle-expiry horizon for all per-event Redis keys.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLHours) * time.Hour
}

// TickInterval returns the ticker period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}
