package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Game        Game        `yaml:"game"`
	Generator   Generator   `yaml:"generator"`
	Matcher     Matcher     `yaml:"matcher"`
	Persistence Persistence `yaml:"persistence"`
}

type Game struct {
	AnswerWindow          string  `yaml:"answer_window"`
	WinningScore          int     `yaml:"winning_score"`
	MaxPlayers            int     `yaml:"max_players"`
	RecentTopicWindow     int     `yaml:"recent_topic_window"`
	RecentQuestionLimit   int     `yaml:"recent_question_limit"`
	IdleTimeout           string  `yaml:"idle_timeout"`
	SweepInterval         string  `yaml:"sweep_interval"`
	LikedTopicProbability float64 `yaml:"liked_topic_probability"`
}

type Generator struct {
	// Provider is "gemini" or "bank".
	Provider             string `yaml:"provider"`
	APIKey               string `yaml:"api_key"`
	Model                string `yaml:"model"`
	Attempts             int    `yaml:"attempts"`
	Timeout              string `yaml:"timeout"`
	Fallback             bool   `yaml:"fallback"`
	DuplicateContainment bool   `yaml:"duplicate_containment"`
	BankFile             string `yaml:"bank_file"`
	BankTTL              string `yaml:"bank_ttl"`
}

type Matcher struct {
	Threshold float64 `yaml:"threshold"`
}

type Persistence struct {
	Attempts       int    `yaml:"attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Redis.TTL = "24h"
	cfg.Game = Game{
		AnswerWindow:          "30s",
		WinningScore:          10,
		MaxPlayers:            10,
		RecentTopicWindow:     3,
		RecentQuestionLimit:   20,
		IdleTimeout:           "60m",
		SweepInterval:         "1m",
		LikedTopicProbability: 0.25,
	}
	cfg.Generator = Generator{
		Provider:             "gemini",
		Model:                "gemini-2.0-flash",
		Attempts:             5,
		Timeout:              "10s",
		DuplicateContainment: true,
		BankTTL:              "10m",
	}
	cfg.Matcher.Threshold = 0.8
	cfg.Persistence = Persistence{Attempts: 3, InitialBackoff: "50ms", MaxBackoff: "1s"}
	return cfg
}

// Load reads YAML config from path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
