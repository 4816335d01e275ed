package config

import (
	"os"
	"strconv"

	"wisefido-session/pkg/config"
)

// Config 疗程看板服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 看板服务特定配置
	Session struct {
		// 时钟配置
		Clock struct {
			PollIntervalMs int // 时钟轮询间隔（毫秒），默认 250
		}

		// 同步配置
		Sync struct {
			BucketSeconds int // 计时写入节流桶（秒），默认 2：floor(elapsed/2) 变化才写库
		}

		// 提醒评估配置
		Evaluation struct {
			ReannounceSeconds int // 未确认提醒的重播间隔（秒），默认 5
		}

		// Redis 变更通知频道
		Channels struct {
			Patients string // 病人表变更通知频道
			Alerts   string // 提醒表变更通知频道
			Banner   string // 看板横幅通知频道
		}

		// MQTT 通知主题
		Topics struct {
			Tone         string // 提示音主题
			ToneFallback string // 提示音备用主题（主路径被拒时使用）
			Push         string // 原生推送主题
		}

		// 离线模式的本地初始病床数
		SeedPatients int

		// 是否已授权原生推送（未授权时仅发声音和横幅）
		PushGranted bool
	}

	Log struct {
		Level  string
		Format string
	}

	// 后端是否已配置（未配置时整个服务以纯本地模式运行）
	configured bool
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 后端仅在显式给出 DB_HOST 时视为已配置
	cfg.configured = os.Getenv("DB_HOST") != ""

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "therapy")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-session")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 看板服务配置
	cfg.Session.Clock.PollIntervalMs = getEnvInt("CLOCK_POLL_INTERVAL_MS", 250)
	cfg.Session.Sync.BucketSeconds = getEnvInt("SYNC_BUCKET_SECONDS", 2)
	cfg.Session.Evaluation.ReannounceSeconds = getEnvInt("ALERT_REANNOUNCE_SECONDS", 5)

	cfg.Session.Channels.Patients = getEnv("CHANNEL_PATIENTS", "session:patients:changed")
	cfg.Session.Channels.Alerts = getEnv("CHANNEL_ALERTS", "session:alerts:changed")
	cfg.Session.Channels.Banner = getEnv("CHANNEL_BANNER", "session:banner")

	cfg.Session.Topics.Tone = getEnv("TOPIC_TONE", "session/notify/tone")
	cfg.Session.Topics.ToneFallback = getEnv("TOPIC_TONE_FALLBACK", "session/notify/tone-fallback")
	cfg.Session.Topics.Push = getEnv("TOPIC_PUSH", "session/notify/push")

	cfg.Session.SeedPatients = getEnvInt("SEED_PATIENTS", 3)
	cfg.Session.PushGranted = getEnv("PUSH_GRANTED", "false") == "true"

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Configured 后端是否已配置
func (c *Config) Configured() bool {
	return c.configured
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
