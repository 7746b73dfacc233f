/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the reward catalog, the grant ledger, standings and the goal
  hierarchy on a single SQLite file. The postgres package implements the
  same interfaces for shared deployments.

INTERFACES IMPLEMENTED:
  generic.RewardStore:    Catalog rows, find-or-create by name
  generic.GrantStore:     Grant rows, unique per (user, reward, context key)
  generic.StandingsStore: Point totals aggregated in SQL
  goals.Store:            Objectives, checkpoints, actions

UNIQUENESS:
  The grants table carries UNIQUE(user_id, reward_id, context_key). A
  concurrent second insert fails with a constraint error, which is mapped to
  generic.ErrDuplicateGrant so the ledger can resolve the race.

COUNTERS:
  InsertGrant bumps rewards.times_earned and inserts the grant in one
  transaction. The counter never moves without a grant row.

CONCURRENCY:
  Writes are serialized with a mutex on top of SQLite's own locking.
  The database is opened in WAL mode so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/achievements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for tests
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

var (
	_ generic.Store = (*Store)(nil)
	_ goals.Store   = (*Store)(nil)
)

// New opens (or creates) the database and applies pending migrations.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// =============================================================================
// REWARDS (generic.RewardStore)
// =============================================================================

type rewardRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	Icon         string `db:"icon"`
	Category     string `db:"category"`
	Rarity       string `db:"rarity"`
	Points       int    `db:"points"`
	Color        string `db:"color"`
	Active       bool   `db:"active"`
	CriteriaJSON string `db:"criteria_json"`
	TimesEarned  int    `db:"times_earned"`
	CreatedAt    string `db:"created_at"`
}

const rewardColumns = `id, name, description, icon, category, rarity, points, color, active, criteria_json, times_earned, created_at`

func (r rewardRow) record() (generic.RewardRecord, error) {
	rec := generic.RewardRecord{
		ID:          generic.RewardID(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Icon:        r.Icon,
		Category:    r.Category,
		Rarity:      r.Rarity,
		Points:      r.Points,
		Color:       r.Color,
		Active:      r.Active,
		TimesEarned: r.TimesEarned,
		CreatedAt:   parseTime(r.CreatedAt),
	}
	if err := json.Unmarshal([]byte(r.CriteriaJSON), &rec.Criteria); err != nil {
		return rec, fmt.Errorf("decoding criteria of reward %s: %w", r.ID, err)
	}
	return rec, nil
}

// SaveReward returns the existing row when the name is taken.
func (s *Store) SaveReward(ctx context.Context, r generic.RewardRecord) (generic.RewardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing rewardRow
	err := s.db.GetContext(ctx, &existing, "SELECT "+rewardColumns+" FROM rewards WHERE name = ?", r.Name)
	switch {
	case err == nil:
		return existing.record()
	case !errors.Is(err, sql.ErrNoRows):
		return generic.RewardRecord{}, wrapErr("finding reward by name", err)
	}

	if r.ID == "" {
		r.ID = generic.RewardID(uuid.NewString())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.TimesEarned = 0
	criteria, err := json.Marshal(orEmpty(r.Criteria))
	if err != nil {
		return generic.RewardRecord{}, fmt.Errorf("encoding criteria: %w", err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO rewards (`+rewardColumns+`)
		VALUES (:id, :name, :description, :icon, :category, :rarity, :points, :color, :active, :criteria_json, :times_earned, :created_at)`,
		rewardRow{
			ID: string(r.ID), Name: r.Name, Description: r.Description, Icon: r.Icon,
			Category: r.Category, Rarity: r.Rarity, Points: r.Points, Color: r.Color,
			Active: r.Active, CriteriaJSON: string(criteria), CreatedAt: formatTime(r.CreatedAt),
		})
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return generic.RewardRecord{}, fmt.Errorf("%w: %s", generic.ErrDuplicateReward, r.Name)
		}
		return generic.RewardRecord{}, wrapErr("inserting reward", err)
	}
	return r, nil
}

func (s *Store) GetReward(ctx context.Context, id generic.RewardID) (*generic.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row rewardRow
	err := s.db.GetContext(ctx, &row, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("getting reward", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListRewards(ctx context.Context) ([]generic.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []rewardRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+rewardColumns+" FROM rewards ORDER BY points ASC, name ASC"); err != nil {
		return nil, wrapErr("listing rewards", err)
	}
	out := make([]generic.RewardRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// =============================================================================
// GRANTS (generic.GrantStore)
// =============================================================================

type grantRow struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	RewardID     string `db:"reward_id"`
	ObjectiveID  string `db:"objective_id"`
	CheckpointID string `db:"checkpoint_id"`
	ActionID     string `db:"action_id"`
	Occurrence   string `db:"occurrence"`
	ContextKey   string `db:"context_key"`
	StreakCount  int    `db:"streak_count"`
	ContextJSON  string `db:"context_json"`
	EarnedAt     string `db:"earned_at"`
	Notified     bool   `db:"notified"`
}

const grantColumns = `id, user_id, reward_id, objective_id, checkpoint_id, action_id, occurrence, context_key, streak_count, context_json, earned_at, notified`

func toGrantRow(g generic.Grant) (grantRow, error) {
	ctxJSON, err := json.Marshal(orEmptyStrings(g.Context))
	if err != nil {
		return grantRow{}, fmt.Errorf("encoding grant context: %w", err)
	}
	return grantRow{
		ID:           string(g.ID),
		UserID:       string(g.UserID),
		RewardID:     string(g.RewardID),
		ObjectiveID:  string(g.ObjectiveID),
		CheckpointID: string(g.CheckpointID),
		ActionID:     string(g.ActionID),
		Occurrence:   g.Occurrence,
		ContextKey:   g.ContextKey(),
		StreakCount:  g.StreakCount,
		ContextJSON:  string(ctxJSON),
		EarnedAt:     formatTime(g.EarnedAt),
		Notified:     g.Notified,
	}, nil
}

func (r grantRow) grant() (generic.Grant, error) {
	g := generic.Grant{
		ID:           generic.GrantID(r.ID),
		UserID:       generic.UserID(r.UserID),
		RewardID:     generic.RewardID(r.RewardID),
		ObjectiveID:  generic.ObjectiveID(r.ObjectiveID),
		CheckpointID: generic.CheckpointID(r.CheckpointID),
		ActionID:     generic.ActionID(r.ActionID),
		Occurrence:   r.Occurrence,
		StreakCount:  r.StreakCount,
		EarnedAt:     parseTime(r.EarnedAt),
		Notified:     r.Notified,
	}
	if err := json.Unmarshal([]byte(r.ContextJSON), &g.Context); err != nil {
		return g, fmt.Errorf("decoding context of grant %s: %w", r.ID, err)
	}
	return g, nil
}

func (s *Store) FindGrant(ctx context.Context, userID generic.UserID, rewardID generic.RewardID, contextKey string) (*generic.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row grantRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+grantColumns+" FROM grants WHERE user_id = ? AND reward_id = ? AND context_key = ?",
		string(userID), string(rewardID), contextKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("finding grant", err)
	}
	g, err := row.grant()
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGrant stores the grant and bumps the reward counter atomically.
func (s *Store) InsertGrant(ctx context.Context, g generic.Grant) error {
	row, err := toGrantRow(g)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("beginning transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE rewards SET times_earned = times_earned + 1 WHERE id = ?", row.RewardID)
	if err != nil {
		return wrapErr("incrementing times_earned", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("reward", row.RewardID)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`)
		VALUES (:id, :user_id, :reward_id, :objective_id, :checkpoint_id, :action_id, :occurrence, :context_key, :streak_count, :context_json, :earned_at, :notified)`,
		row)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return generic.ErrDuplicateGrant
		}
		return wrapErr("inserting grant", err)
	}
	return tx.Commit()
}

func (s *Store) UpdateGrantContext(ctx context.Context, id generic.GrantID, snapshot map[string]string, streakCount int) error {
	ctxJSON, err := json.Marshal(orEmptyStrings(snapshot))
	if err != nil {
		return fmt.Errorf("encoding grant context: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE grants SET context_json = ?, streak_count = ? WHERE id = ?",
		string(ctxJSON), streakCount, string(id))
	if err != nil {
		return wrapErr("updating grant context", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound("grant", string(id))
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, filter generic.GrantFilter) ([]generic.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + grantColumns + " FROM grants WHERE 1=1"
	var args []any
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, string(filter.UserID))
	}
	if filter.RewardID != "" {
		query += " AND reward_id = ?"
		args = append(args, string(filter.RewardID))
	}
	if filter.Unnotified {
		query += " AND notified = 0"
	}
	query += " ORDER BY earned_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []grantRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr("listing grants", err)
	}
	out := make([]generic.Grant, 0, len(rows))
	for _, row := range rows {
		g, err := row.grant()
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) MarkNotified(ctx context.Context, ids ...generic.GrantID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	query, args, err := sqlx.In("UPDATE grants SET notified = 1 WHERE id IN (?)", raw)
	if err != nil {
		return fmt.Errorf("building notified update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return wrapErr("marking grants notified", err)
	}
	return nil
}

// =============================================================================
// STANDINGS (generic.StandingsStore)
// =============================================================================

type standingRow struct {
	UserID         string         `db:"user_id"`
	Points         int            `db:"points"`
	Grants         int            `db:"grants"`
	LatestReward   sql.NullString `db:"latest_reward"`
	LatestEarnedAt sql.NullString `db:"latest_earned_at"`
}

func (r standingRow) standing() generic.Standing {
	return generic.Standing{
		UserID:         generic.UserID(r.UserID),
		Points:         r.Points,
		Grants:         r.Grants,
		LatestReward:   r.LatestReward.String,
		LatestEarnedAt: parseTime(r.LatestEarnedAt.String),
	}
}

const standingsQuery = `
	SELECT g.user_id AS user_id,
	       SUM(r.points) AS points,
	       COUNT(*) AS grants,
	       MAX(g.earned_at) AS latest_earned_at,
	       (SELECT r2.name FROM grants g2 JOIN rewards r2 ON r2.id = g2.reward_id
	         WHERE g2.user_id = g.user_id
	         ORDER BY g2.earned_at DESC, g2.id DESC LIMIT 1) AS latest_reward
	FROM grants g
	JOIN rewards r ON r.id = g.reward_id`

// Standings orders by points, then user ID. A non-positive limit returns all.
func (s *Store) Standings(ctx context.Context, limit int) ([]generic.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	var rows []standingRow
	err := s.db.SelectContext(ctx, &rows,
		standingsQuery+" GROUP BY g.user_id ORDER BY points DESC, g.user_id ASC LIMIT ?", limit)
	if err != nil {
		return nil, wrapErr("loading standings", err)
	}
	out := make([]generic.Standing, len(rows))
	for i, row := range rows {
		out[i] = row.standing()
	}
	return out, nil
}

func (s *Store) UserStanding(ctx context.Context, userID generic.UserID) (*generic.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row standingRow
	err := s.db.GetContext(ctx, &row, standingsQuery+" WHERE g.user_id = ? GROUP BY g.user_id", string(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("loading user standing", err)
	}
	st := row.standing()
	return &st, nil
}

func (s *Store) CountUsersAbove(ctx context.Context, points int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (
			SELECT g.user_id FROM grants g JOIN rewards r ON r.id = g.reward_id
			GROUP BY g.user_id HAVING SUM(r.points) > ?
		)`, points)
	if err != nil {
		return 0, wrapErr("counting users above", err)
	}
	return n, nil
}

// Reset clears every table. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"grants", "actions", "checkpoints", "objectives", "rewards"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapErr("resetting "+table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// wrapErr marks busy/locked database errors as retryable.
func wrapErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w: %v", op, generic.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDate(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.String()
}

func parseDate(s string) generic.TimePoint {
	if s == "" {
		return generic.TimePoint{}
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
