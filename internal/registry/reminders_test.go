package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftbot/internal/registry"
)

func TestCreateReminderRollsToTomorrow(t *testing.T) {
	env := newTestEnv(t)

	later, err := env.Reg.CreateReminder(env.Ctx, "ou_user", "standup", 15, 30)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04T15:30:00Z", later.FireAt)

	past, err := env.Reg.CreateReminder(env.Ctx, "ou_user", "coffee", 9, 0)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T09:00:00Z", past.FireAt)

	exact, err := env.Reg.CreateReminder(env.Ctx, "ou_user", "now", 12, 0)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T12:00:00Z", exact.FireAt)
}

func TestCreateReminderValidates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Reg.CreateReminder(env.Ctx, "ou_user", "x", 24, 0)
	require.ErrorIs(t, err, registry.ErrInvalid)
	_, err = env.Reg.CreateReminder(env.Ctx, "ou_user", "x", 10, 60)
	require.ErrorIs(t, err, registry.ErrInvalid)
	_, err = env.Reg.CreateReminder(env.Ctx, "ou_user", " ", 10, 0)
	require.ErrorIs(t, err, registry.ErrInvalid)
}

func TestClaimDueRemindersOnce(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Reg.CreateReminder(env.Ctx, "ou_a", "first", 12, 5)
	require.NoError(t, err)
	_, err = env.Reg.CreateReminder(env.Ctx, "ou_b", "second", 18, 0)
	require.NoError(t, err)

	due, err := env.Reg.ClaimDueReminders(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	env.advance(10 * time.Minute)
	due, err = env.Reg.ClaimDueReminders(env.Ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)
	assert.True(t, due[0].Sent)

	due, err = env.Reg.ClaimDueReminders(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	pending, err := env.Reg.ListReminders(env.Ctx, "", false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ou_b", pending[0].OwnerID)

	all, err := env.Reg.ListReminders(env.Ctx, "ou_a", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Sent)
}
