package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	GrpcPort int    `env:"GRPC_PORT,default=9090"`
	// DebugPort serves the badger inspector, only when LOG_LEVEL is DEBUG.
	DebugPort int `env:"DEBUG_PORT,default=8081"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	UploadRoot     string `env:"UPLOAD_ROOT,required=true"`
	JwtSecret      string `env:"JWT_SECRET,required=true"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	StoreTimeout      time.Duration `env:"STORE_TIMEOUT,default=2s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT,default=5s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=2s"`
	JanitorInterval   time.Duration `env:"JANITOR_INTERVAL,default=1m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=5m"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=30s"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL,default=10s"`

	SendBuffer int   `env:"SEND_BUFFER,default=256"`
	ReadLimit  int64 `env:"READ_LIMIT,default=65536"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// Origins splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
