package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// =============================================================================
// AGGREGATION QUERIES
// =============================================================================
// Everything here is read-only over the grant ledger. Storage errors are
// wrapped and returned; generic.IsRetryable tells the caller whether to retry.

const DefaultRecentLimit = 5

// Stats answers per-user and cross-user questions about grants.
type Stats struct {
	Grants      generic.GrantStore
	Standings   generic.StandingsStore
	Rewards     Catalog
	Hierarchy   HierarchySource // optional, resolves item titles
	RecentLimit int
	Now         func() time.Time
}

func NewStats(store generic.Store, catalog Catalog, hierarchy HierarchySource) *Stats {
	return &Stats{
		Grants:      store,
		Standings:   store,
		Rewards:     catalog,
		Hierarchy:   hierarchy,
		RecentLimit: DefaultRecentLimit,
		Now:         time.Now,
	}
}

type UserStats struct {
	UserID            generic.UserID   `json:"user_id"`
	TotalGrants       int              `json:"total_achievements"`
	TotalPoints       int              `json:"total_points"`
	ByRarity          map[Rarity]int   `json:"by_rarity"`
	ByCategory        map[Category]int `json:"by_category"`
	Recent            []GrantDisplay   `json:"recent_achievements"`
	StreakGrants      int              `json:"streak_achievements"`
	CompletionGrants  int              `json:"completion_achievements"`
	SpecialGrants     int              `json:"special_achievements"`
	CatalogCompletion decimal.Decimal  `json:"catalog_completion"`
	Rank              int              `json:"rank"`
}

// UserStats summarizes one user's grants. The independent reads run
// concurrently.
func (s *Stats) UserStats(ctx context.Context, userID generic.UserID) (UserStats, error) {
	var (
		grants    []generic.Grant
		catalog   []Reward
		standing  *generic.Standing
		hierarchy goals.Hierarchy
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		grants, err = s.Grants.ListGrants(gctx, generic.GrantFilter{UserID: userID})
		return wrap("list grants", err)
	})
	g.Go(func() (err error) {
		catalog, err = s.Rewards.Rewards(gctx)
		return wrap("load catalog", err)
	})
	g.Go(func() (err error) {
		standing, err = s.Standings.UserStanding(gctx, userID)
		return wrap("load standing", err)
	})
	if s.Hierarchy != nil {
		g.Go(func() (err error) {
			hierarchy, err = s.Hierarchy.LoadHierarchy(gctx, userID)
			return wrap("load hierarchy", err)
		})
	}
	if err := g.Wait(); err != nil {
		return UserStats{}, err
	}

	byID := indexRewards(catalog)
	out := UserStats{
		UserID:     userID,
		ByRarity:   make(map[Rarity]int),
		ByCategory: make(map[Category]int),
	}
	earned := make(map[generic.RewardID]bool)
	for _, gr := range grants {
		r, ok := byID[gr.RewardID]
		if !ok {
			continue
		}
		out.TotalGrants++
		out.TotalPoints += r.Points
		out.ByRarity[r.Rarity]++
		out.ByCategory[r.Category]++
		switch r.Category {
		case CategoryStreak:
			out.StreakGrants++
		case CategoryObjectiveCompletion:
			out.CompletionGrants++
		case CategorySpecial:
			out.SpecialGrants++
		}
		earned[r.ID] = true

		if len(out.Recent) < s.recentLimit() {
			out.Recent = append(out.Recent, Display(gr, r, hierarchy))
		}
	}

	active := 0
	for _, r := range catalog {
		if r.Active {
			active++
		}
	}
	out.CatalogCompletion = generic.Percentage(len(earned), active, 1)

	points := 0
	if standing != nil {
		points = standing.Points
	}
	above, err := s.Standings.CountUsersAbove(ctx, points)
	if err != nil {
		return UserStats{}, wrap("count users above", err)
	}
	out.Rank = above + 1
	return out, nil
}

// =============================================================================
// LEADERBOARD
// =============================================================================

type LeaderboardEntry struct {
	Rank         int            `json:"rank"`
	UserID       generic.UserID `json:"user_id"`
	TotalPoints  int            `json:"total_points"`
	Grants       int            `json:"achievement_count"`
	LatestReward string         `json:"latest_achievement,omitempty"`
}

// Leaderboard returns the top users by summed points. Equal totals share a
// rank; the order within a tie is by user ID.
func (s *Stats) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	standings, err := s.Standings.Standings(ctx, limit)
	if err != nil {
		return nil, wrap("load standings", err)
	}
	return rankStandings(standings), nil
}

func rankStandings(standings []generic.Standing) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(standings))
	for i, st := range standings {
		rank := i + 1
		if i > 0 && st.Points == standings[i-1].Points {
			rank = out[i-1].Rank
		}
		out[i] = LeaderboardEntry{
			Rank:         rank,
			UserID:       st.UserID,
			TotalPoints:  st.Points,
			Grants:       st.Grants,
			LatestReward: st.LatestReward,
		}
	}
	return out
}

// Position is a user's place on the full leaderboard. Rank is nil when the
// user holds no grants.
type Position struct {
	UserID      generic.UserID `json:"user_id"`
	Rank        *int           `json:"rank"`
	TotalPoints int            `json:"total_points"`
	Grants      int            `json:"achievement_count"`
}

// Position scans the unbounded leaderboard for the user.
func (s *Stats) Position(ctx context.Context, userID generic.UserID) (Position, error) {
	standings, err := s.Standings.Standings(ctx, 0)
	if err != nil {
		return Position{}, wrap("load standings", err)
	}
	for _, e := range rankStandings(standings) {
		if e.UserID == userID {
			rank := e.Rank
			return Position{UserID: userID, Rank: &rank, TotalPoints: e.TotalPoints, Grants: e.Grants}, nil
		}
	}

	pos := Position{UserID: userID}
	st, err := s.Standings.UserStanding(ctx, userID)
	if err != nil {
		return Position{}, wrap("load standing", err)
	}
	if st != nil {
		pos.TotalPoints, pos.Grants = st.Points, st.Grants
	}
	return pos, nil
}

// Rank is 1 + the number of users with strictly more points.
func (s *Stats) Rank(ctx context.Context, userID generic.UserID) (int, error) {
	st, err := s.Standings.UserStanding(ctx, userID)
	if err != nil {
		return 0, wrap("load standing", err)
	}
	points := 0
	if st != nil {
		points = st.Points
	}
	above, err := s.Standings.CountUsersAbove(ctx, points)
	if err != nil {
		return 0, wrap("count users above", err)
	}
	return above + 1, nil
}

// =============================================================================
// CROSS-USER FEEDS
// =============================================================================

type RecentGrant struct {
	UserLabel string        `json:"user"`
	Reward    RewardSummary `json:"reward"`
	EarnedAt  time.Time     `json:"earned_at"`
}

// RecentGrants lists the latest grants across all users with masked user IDs.
func (s *Stats) RecentGrants(ctx context.Context, limit int) ([]RecentGrant, error) {
	if limit <= 0 {
		limit = 10
	}
	var (
		grants  []generic.Grant
		catalog []Reward
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		grants, err = s.Grants.ListGrants(gctx, generic.GrantFilter{Limit: limit})
		return wrap("list grants", err)
	})
	g.Go(func() (err error) {
		catalog, err = s.Rewards.Rewards(gctx)
		return wrap("load catalog", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := indexRewards(catalog)
	out := make([]RecentGrant, 0, len(grants))
	for _, gr := range grants {
		r, ok := byID[gr.RewardID]
		if !ok {
			continue
		}
		out = append(out, RecentGrant{UserLabel: maskUser(gr.UserID), Reward: Summarize(r), EarnedAt: gr.EarnedAt})
	}
	return out, nil
}

// CatalogEntry is a reward as seen by one user.
type CatalogEntry struct {
	Reward   RewardSummary   `json:"reward"`
	Earned   bool            `json:"earned"`
	EarnedAt *time.Time      `json:"earned_at,omitempty"`
	Progress *RewardProgress `json:"progress,omitempty"`
}

// Catalog lists the active rewards with the user's earned flag, and progress
// toward the ones not earned yet.
func (s *Stats) Catalog(ctx context.Context, userID generic.UserID) ([]CatalogEntry, error) {
	var (
		grants    []generic.Grant
		catalog   []Reward
		hierarchy goals.Hierarchy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		grants, err = s.Grants.ListGrants(gctx, generic.GrantFilter{UserID: userID})
		return wrap("list grants", err)
	})
	g.Go(func() (err error) {
		catalog, err = s.Rewards.Rewards(gctx)
		return wrap("load catalog", err)
	})
	if s.Hierarchy != nil {
		g.Go(func() (err error) {
			hierarchy, err = s.Hierarchy.LoadHierarchy(gctx, userID)
			return wrap("load hierarchy", err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// grants are newest first; keep the earliest earned time per reward
	firstEarned := make(map[generic.RewardID]time.Time)
	for _, gr := range grants {
		firstEarned[gr.RewardID] = gr.EarnedAt
	}

	today := generic.DateOf(s.now())
	var out []CatalogEntry
	for _, r := range catalog {
		if !r.Active {
			continue
		}
		e := CatalogEntry{Reward: Summarize(r)}
		if at, ok := firstEarned[r.ID]; ok {
			e.Earned = true
			e.EarnedAt = &at
		} else {
			p := Progress(r, hierarchy, today)
			e.Progress = &p
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Stats) recentLimit() int {
	if s.RecentLimit <= 0 {
		return DefaultRecentLimit
	}
	return s.RecentLimit
}

func (s *Stats) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func indexRewards(rs []Reward) map[generic.RewardID]Reward {
	out := make(map[generic.RewardID]Reward, len(rs))
	for _, r := range rs {
		out[r.ID] = r
	}
	return out
}

func maskUser(id generic.UserID) string {
	s := string(id)
	if len(s) <= 2 {
		return "***"
	}
	return s[:2] + "***"
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
