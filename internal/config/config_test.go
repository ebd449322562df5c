package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
app:
  id: cli_123
roster:
  day: [ou_a, ou_b]
admins: [ou_admin]
`))
	require.NoError(t, err)
	assert.Equal(t, "cli_123", cfg.App.ID)
	assert.Equal(t, DefaultBaseURL, cfg.App.BaseURL)
	assert.Equal(t, 10, cfg.Schedule.DayStart)
	assert.Equal(t, []string{"ou_a", "ou_b"}, cfg.Roster.Day)
	assert.Equal(t, 7*24*time.Hour, cfg.Schedule.RotationPeriod())
	assert.Equal(t, time.Minute, cfg.Schedule.Interval())
}

func TestGeneratedDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", cfg.Schedule.Timezone)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	cases := map[string]string{
		"hours":     "schedule:\n  day_start: 16\n  night_start: 10\n",
		"timezone":  "schedule:\n  timezone: Mars/Olympus\n",
		"interval":  "schedule:\n  reminder_interval: soon\n",
		"active":    "schedule:\n  active_size: 0\n",
		"member":    "roster:\n  night: [\"\"]\n",
		"base_url":  "app:\n  base_url: ftp://example\n",
		"root base": "server:\n  base_path: /\n",
		"no base":   "server:\n  base_path: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestDoctor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.Doctor().Code)

	cfg.App.ID = "app_123"
	res := cfg.Doctor()
	assert.False(t, res.OK())
	assert.Contains(t, res.Message, "cli_")

	cfg.App.ID = "cli_123"
	assert.Contains(t, cfg.Doctor().Message, "secret")

	cfg.App.Secret = "s3cret"
	res = cfg.Doctor()
	require.True(t, res.OK())
	assert.Equal(t, "cli_123", res.Meta["app_id"])
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(Path(dir))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("admins: [ou_x]\n"), 0o644))
	cfg, err = Load(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_x"}, cfg.Admins)
}
