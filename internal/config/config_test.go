package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.MoveTimer)
	assert.Equal(t, 10*time.Minute, cfg.TotalTime)
	assert.Equal(t, 30*time.Second, cfg.Grace)
	assert.Equal(t, 3*time.Second, cfg.Countdown)
	assert.Equal(t, 5, cfg.Rank.TierStep)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MOVE_TIMER_SEC", "45")
	t.Setenv("RANK_TIER_STEP", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.MoveTimer)
	assert.Equal(t, 3, cfg.Rank.TierStep)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestMatchParams_ProjectsTimingRules(t *testing.T) {
	cfg := Load()
	p := cfg.MatchParams()

	assert.Equal(t, cfg.MoveTimer, p.MoveTimer)
	assert.Equal(t, cfg.TotalTime, p.TotalTime)
	assert.Equal(t, cfg.Grace, p.Grace)
	assert.Equal(t, cfg.Countdown, p.Countdown)
	assert.Equal(t, cfg.Rank, p.Rank)
}
