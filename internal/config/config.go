package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/rank"
)

// Config carries everything the server wires at startup. Timing rules and
// the rank table are env-tunable product constants, not code.
type Config struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers []string

	MoveTimer time.Duration
	TotalTime time.Duration
	Grace     time.Duration
	Countdown time.Duration

	Rank rank.Config
}

// Load reads .env (if present) and the environment, falling back to the
// production defaults.
func Load() Config {
	_ = godotenv.Load()

	rc := rank.DefaultConfig()
	rc.TierStep = envInt("RANK_TIER_STEP", rc.TierStep)
	rc.TierCap = envInt("RANK_TIER_CAP", rc.TierCap)

	return Config{
		Port:         envStr("PORT", "8080"),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		KafkaBrokers: strings.Split(envStr("KAFKA_BROKERS", "localhost:9092"), ","),
		MoveTimer:    envSeconds("MOVE_TIMER_SEC", 30),
		TotalTime:    envSeconds("TOTAL_TIME_SEC", 600),
		Grace:        envSeconds("DISCONNECT_GRACE_SEC", 30),
		Countdown:    envSeconds("NEXT_GAME_COUNTDOWN_SEC", 3),
		Rank:         rc,
	}
}

// MatchParams projects the config into the per-match rule set.
func (c Config) MatchParams() match.Params {
	return match.Params{
		MoveTimer: c.MoveTimer,
		TotalTime: c.TotalTime,
		Grace:     c.Grace,
		Countdown: c.Countdown,
		Rank:      c.Rank,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
