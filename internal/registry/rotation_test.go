package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftbot/internal/config"
	"shiftbot/internal/db"
	"shiftbot/internal/domain"
	"shiftbot/internal/migrate"
	"shiftbot/internal/registry"
)

func TestSeedKeepsExistingTeams(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Reg.Seed(env.Ctx, config.Roster{Day: []string{"ou_other"}}, nil))
	ros, err := env.Reg.Roster(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_d1", "ou_d2", "ou_d3"}, ros.Day)
	assert.Equal(t, []string{"ou_n1", "ou_n2"}, ros.Night)
}

func TestSeedReplacesAdminsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	roster := config.Roster{Day: []string{"ou_d1"}, Night: []string{"ou_n1"}}
	open := func(admins ...string) *registry.Registry {
		conn, err := db.Open(db.Config{Path: path})
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		_, err = migrate.Migrate(ctx, conn)
		require.NoError(t, err)
		reg := registry.New(conn, config.Default().Schedule)
		require.NoError(t, reg.Seed(ctx, roster, admins))
		return reg
	}

	first := open("ou_old", "ou_keep")
	ok, err := first.IsAdmin(ctx, "ou_old")
	require.NoError(t, err)
	require.True(t, ok)

	reg := open("ou_keep", "ou_new")
	admins, err := reg.Admins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_keep", "ou_new"}, admins)

	err = reg.RequireAdmin(ctx, "ou_old", "admin stats")
	var forbidden registry.ForbiddenError
	require.True(t, errors.As(err, &forbidden), "got %v", err)

	events, err := reg.AuditLog(ctx, 10, domain.EntityRoster, 0)
	require.NoError(t, err)
	var changes int
	for _, e := range events {
		if e.Type == "roster.admins" {
			changes++
		}
	}
	assert.Equal(t, 2, changes)

	// Same admins again: nothing to record.
	open("ou_new", "ou_keep")
	events, err = reg.AuditLog(ctx, 10, domain.EntityRoster, 0)
	require.NoError(t, err)
	changes = 0
	for _, e := range events {
		if e.Type == "roster.admins" {
			changes++
		}
	}
	assert.Equal(t, 2, changes)
}

func TestMaybeRotate(t *testing.T) {
	env := newTestEnv(t)

	rotated, err := env.Reg.MaybeRotate(env.Ctx)
	require.NoError(t, err)
	assert.False(t, rotated, "first call only records the start")
	ros, err := env.Reg.Roster(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04T12:00:00Z", ros.RotationStarted)

	env.advance(6*24*time.Hour + 23*time.Hour)
	rotated, err = env.Reg.MaybeRotate(env.Ctx)
	require.NoError(t, err)
	assert.False(t, rotated)

	env.advance(time.Hour)
	rotated, err = env.Reg.MaybeRotate(env.Ctx)
	require.NoError(t, err)
	assert.True(t, rotated)

	ros, err = env.Reg.Roster(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_d2", "ou_d3", "ou_d1"}, ros.Day)
	assert.Equal(t, []string{"ou_n2", "ou_n1"}, ros.Night)
	assert.Equal(t, "2024-03-11T12:00:00Z", ros.RotationStarted)

	rotated, err = env.Reg.MaybeRotate(env.Ctx)
	require.NoError(t, err)
	assert.False(t, rotated, "the period restarts after a rotation")
}

func TestResponsibleParties(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		hour int
		want []string
	}{
		{9, []string{"ou_admin"}},
		{10, []string{"ou_d1", "ou_d2"}},
		{15, []string{"ou_d1", "ou_d2"}},
		{16, []string{"ou_n1", "ou_n2"}},
		{20, []string{"ou_n1", "ou_n2"}},
		{21, []string{"ou_admin"}},
		{3, []string{"ou_admin"}},
	}
	for _, c := range cases {
		env.Now = time.Date(2024, 3, 4, c.hour, 30, 0, 0, time.UTC)
		got, err := env.Reg.ResponsibleParties(env.Ctx)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "hour %d", c.hour)
	}

	env.Reg.Schedule.FallbackID = "ou_fallback"
	env.Now = time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	got, err := env.Reg.ResponsibleParties(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_fallback"}, got)
}

func TestResponsiblePartiesSmallTeam(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Reg.RemoveResponsible(env.Ctx, "ou_admin", domain.TeamNight, "ou_n2"))
	env.Now = time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC)
	got, err := env.Reg.ResponsibleParties(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_n1"}, got)

	require.NoError(t, env.Reg.RemoveResponsible(env.Ctx, "ou_admin", domain.TeamNight, "ou_n1"))
	got, err = env.Reg.ResponsibleParties(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_admin"}, got, "an empty team falls back to the admins")
}

func TestEditTeam(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Reg.AddResponsible(env.Ctx, "ou_admin", domain.TeamDay, "ou_d4"))
	require.ErrorIs(t, env.Reg.AddResponsible(env.Ctx, "ou_admin", domain.TeamDay, "ou_d4"), registry.ErrInvalid)
	require.ErrorIs(t, env.Reg.AddResponsible(env.Ctx, "ou_admin", "evening", "ou_x"), registry.ErrInvalid)

	ros, err := env.Reg.Roster(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_d1", "ou_d2", "ou_d3", "ou_d4"}, ros.Day)

	require.Error(t, env.Reg.RemoveResponsible(env.Ctx, "ou_admin", domain.TeamDay, "ou_nobody"))
}

func TestShifts(t *testing.T) {
	env := newTestEnv(t)
	require.ErrorIs(t, env.Reg.AddShift(env.Ctx, "ou_admin", domain.Shift{Date: "04.03.2024", Team: domain.TeamDay, MemberID: "ou_d1"}), registry.ErrInvalid)

	s := domain.Shift{Date: env.Reg.Today(), Team: domain.TeamDay, MemberID: "ou_d1"}
	require.NoError(t, env.Reg.AddShift(env.Ctx, "ou_admin", s))
	require.NoError(t, env.Reg.AddShift(env.Ctx, "ou_admin", s))
	got, err := env.Reg.Shifts(env.Ctx, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, []domain.Shift{s}, got)
}
