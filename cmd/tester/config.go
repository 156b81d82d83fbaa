package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SocialURL string `envconfig:"SOCIAL_URL" default:"ws://localhost:8080/social"`
	JwtSecret string `envconfig:"JWT_SECRET" required:"true"`
	// TESTER_TIMEOUT bounds the wait for every expected event
	Timeout time.Duration `envconfig:"TESTER_TIMEOUT" default:"5s"`
	// TESTER_COLOURS enables colorized output
	Colours bool `envconfig:"TESTER_COLOURS" default:"true"`
	// TESTER_DEBUG_JSON dumps every frame received
	DebugJSON bool `envconfig:"TESTER_DEBUG_JSON" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
