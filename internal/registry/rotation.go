package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"shiftbot/internal/config"
	"shiftbot/internal/domain"
	"shiftbot/internal/events"
	"shiftbot/internal/repo"
)

func (r *Registry) Roster(ctx context.Context) (domain.Roster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster(ctx)
}

func (r *Registry) roster(ctx context.Context) (domain.Roster, error) {
	var ros domain.Roster
	var err error
	if ros.Day, err = r.Repo.TeamMembers(ctx, domain.TeamDay); err != nil {
		return ros, err
	}
	if ros.Night, err = r.Repo.TeamMembers(ctx, domain.TeamNight); err != nil {
		return ros, err
	}
	started, err := r.Repo.RotationStarted(ctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ros, err
	}
	ros.RotationStarted = started
	return ros, nil
}

// Seed fills empty teams from cfg and makes the configured admins the whole
// admin set. Teams that already have members are left alone so a file-backed
// store keeps its state; admins always follow the config.
func (r *Registry) Seed(ctx context.Context, roster config.Roster, admins []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for team, members := range map[string][]string{domain.TeamDay: roster.Day, domain.TeamNight: roster.Night} {
			current, err := r.Repo.TeamMembersTx(ctx, tx, team)
			if err != nil {
				return err
			}
			if len(current) > 0 || len(members) == 0 {
				continue
			}
			if err := r.Repo.ReplaceTeam(ctx, tx, team, dedupe(members)); err != nil {
				return err
			}
		}
		admins = dedupe(admins)
		added, removed, err := r.Repo.ReplaceAdmins(ctx, tx, admins, r.stamp())
		if err != nil {
			return fmt.Errorf("seed admins: %w", err)
		}
		if len(added) == 0 && len(removed) == 0 {
			return nil
		}
		return r.Events.Append(ctx, tx, "roster.admins", domain.EntityRoster, 0, "", events.Payload{
			"admins": admins, "added": added, "removed": removed,
		})
	})
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) AddResponsible(ctx context.Context, actorID, team, memberID string) error {
	return r.editTeam(ctx, actorID, team, memberID, "roster.added", func(members []string) ([]string, error) {
		if slices.Contains(members, memberID) {
			return nil, fmt.Errorf("%w: %s is already on the %s team", ErrInvalid, memberID, team)
		}
		return append(members, memberID), nil
	})
}

func (r *Registry) RemoveResponsible(ctx context.Context, actorID, team, memberID string) error {
	return r.editTeam(ctx, actorID, team, memberID, "roster.removed", func(members []string) ([]string, error) {
		i := slices.Index(members, memberID)
		if i < 0 {
			return nil, fmt.Errorf("%s on the %s team: %w", memberID, team, repo.ErrNotFound)
		}
		return slices.Delete(members, i, i+1), nil
	})
}

func (r *Registry) editTeam(ctx context.Context, actorID, team, memberID, evtType string, edit func([]string) ([]string, error)) error {
	memberID = strings.TrimSpace(memberID)
	if !domain.ValidTeam(team) {
		return fmt.Errorf("%w: team must be day or night", ErrInvalid)
	}
	if memberID == "" {
		return fmt.Errorf("%w: member is required", ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		members, err := r.Repo.TeamMembersTx(ctx, tx, team)
		if err != nil {
			return err
		}
		members, err = edit(members)
		if err != nil {
			return err
		}
		if err := r.Repo.ReplaceTeam(ctx, tx, team, members); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, evtType, domain.EntityRoster, 0, actorID, events.Payload{"team": team, "member_id": memberID})
	})
}

func (r *Registry) AddShift(ctx context.Context, actorID string, s domain.Shift) error {
	s.MemberID = strings.TrimSpace(s.MemberID)
	if _, err := time.Parse(time.DateOnly, s.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalid)
	}
	if !domain.ValidTeam(s.Team) {
		return fmt.Errorf("%w: team must be day or night", ErrInvalid)
	}
	if s.MemberID == "" {
		return fmt.Errorf("%w: member is required", ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.Repo.InsertShift(ctx, tx, s); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "shift.added", domain.EntityRoster, 0, actorID, events.Payload{"date": s.Date, "team": s.Team, "member_id": s.MemberID})
	})
}

// Shifts lists the scheduled shifts on date (YYYY-MM-DD).
func (r *Registry) Shifts(ctx context.Context, date string) ([]domain.Shift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ShiftsOn(ctx, date)
}

// Today returns the current date in the schedule timezone.
func (r *Registry) Today() string {
	return r.now().In(r.Schedule.Location()).Format(time.DateOnly)
}

// MaybeRotate records the first rotation start, and afterwards moves the first
// member of each team to the end once the rotation period has elapsed. It
// reports whether the teams were rotated.
func (r *Registry) MaybeRotate(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rotated := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		started, err := r.Repo.RotationStartedTx(ctx, tx)
		if errors.Is(err, repo.ErrNotFound) {
			return r.Repo.SetRotationStarted(ctx, tx, now.UTC().Format(time.RFC3339))
		}
		if err != nil {
			return err
		}
		since, err := time.Parse(time.RFC3339, started)
		if err != nil {
			return fmt.Errorf("parse rotation start %q: %w", started, err)
		}
		if now.Sub(since) < r.Schedule.RotationPeriod() {
			return nil
		}
		for _, team := range domain.Teams {
			members, err := r.Repo.TeamMembersTx(ctx, tx, team)
			if err != nil {
				return err
			}
			if err := r.Repo.ReplaceTeam(ctx, tx, team, rotate(members)); err != nil {
				return err
			}
		}
		ts := now.UTC().Format(time.RFC3339)
		if err := r.Repo.SetRotationStarted(ctx, tx, ts); err != nil {
			return err
		}
		rotated = true
		return r.Events.Append(ctx, tx, "roster.rotated", domain.EntityRoster, 0, "", events.Payload{"previous_start": started})
	})
	return rotated, err
}

func rotate(members []string) []string {
	if len(members) < 2 {
		return members
	}
	out := make([]string, 0, len(members))
	out = append(out, members[1:]...)
	return append(out, members[0])
}

// ResponsibleParties returns who receives new requests at the current hour.
// It never rotates; callers run MaybeRotate first when they need a fresh
// roster.
func (r *Registry) ResponsibleParties(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.Schedule
	hour := r.now().In(s.Location()).Hour()
	var team string
	switch {
	case hour >= s.DayStart && hour < s.NightStart:
		team = domain.TeamDay
	case hour >= s.NightStart && hour < s.NightEnd:
		team = domain.TeamNight
	}
	if team != "" {
		members, err := r.Repo.TeamMembers(ctx, team)
		if err != nil {
			return nil, err
		}
		if n := min(len(members), max(s.ActiveSize, 1)); n > 0 {
			return members[:n], nil
		}
	}
	if s.FallbackID != "" {
		return []string{s.FallbackID}, nil
	}
	return r.Repo.ListAdmins(ctx)
}
