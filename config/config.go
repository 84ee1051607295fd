package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	TargetsPath  string // fuzz target declarations (YAML)
	ArtifactsDir string // per-target logs and crash evidence
	OSSFuzzDir   string // checkout containing infra/helper.py
	MaxParallel  int    // worker pool bound, >= 1
	SkipBuild    bool   // treat every referenced project as pre-built
	GracePeriod  time.Duration
	LogLevel     string
	ServiceName  string

	// optional collaborators; empty means disabled
	DatabaseURL string
	RedisURL    string
	RabbitMQURL string
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		TargetsPath:  getEnv("FUZZ_TARGETS", "/workspace/config/fuzz_targets.yaml"),
		ArtifactsDir: getEnv("ARTIFACTS_DIR", "/workspace/artifacts"),
		OSSFuzzDir:   getEnv("OSS_FUZZ_DIR", "/workspace/oss-fuzz"),
		MaxParallel:  parseInt(os.Getenv("MAX_PARALLEL"), defaultParallel()),
		SkipBuild:    parseBool(os.Getenv("SKIP_BUILD"), false),
		GracePeriod:  parseDuration(os.Getenv("GRACE_PERIOD"), 10*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		ServiceName:  getEnv("SERVICE_NAME", "fuzzdeck"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RabbitMQURL:  os.Getenv("RABBITMQ_URL"),
	}

	if config.MaxParallel < 1 {
		logger.Warn("MAX_PARALLEL below 1, clamping", zap.Int("requested", config.MaxParallel))
		config.MaxParallel = 1
	}

	return config
}

// defaultParallel mirrors the deployment default of one fuzzer per four cores.
func defaultParallel() int {
	n := runtime.NumCPU() / 4
	if n < 1 {
		n = 1
	}
	return n
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
