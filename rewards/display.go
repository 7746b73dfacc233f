package rewards

import (
	"fmt"
	"time"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// =============================================================================
// DISPLAY PROJECTION - What notification and API layers get to see
// =============================================================================

type RewardSummary struct {
	ID          generic.RewardID `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Icon        string           `json:"icon"`
	Color       string           `json:"color"`
	Rarity      Rarity           `json:"rarity"`
	Points      int              `json:"points"`
	Category    Category         `json:"category"`
	Difficulty  int              `json:"difficulty"`
	TimesEarned int              `json:"times_earned"`
}

// ItemSummary names the goal item a grant is tied to.
type ItemSummary struct {
	Type  string `json:"type"` // "objective", "checkpoint", "action"
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type GrantDisplay struct {
	GrantID        generic.GrantID   `json:"id"`
	Reward         RewardSummary     `json:"reward"`
	EarnedAt       time.Time         `json:"earned_at"`
	Context        map[string]string `json:"context,omitempty"`
	StreakCount    int               `json:"streak_count,omitempty"`
	AssociatedItem *ItemSummary      `json:"associated_item,omitempty"`
	Celebration    string            `json:"celebration_message"`
	PointsMessage  string            `json:"points_message"`
	Notified       bool              `json:"notified"`
}

func Summarize(r Reward) RewardSummary {
	return RewardSummary{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Icon:        r.Icon,
		Color:       r.DisplayColor(),
		Rarity:      r.Rarity,
		Points:      r.Points,
		Category:    r.Category,
		Difficulty:  r.Difficulty(),
		TimesEarned: r.TimesEarned,
	}
}

// Display projects a grant for outside consumers. The hierarchy is only used
// to resolve item titles and may be empty.
func Display(g generic.Grant, r Reward, h goals.Hierarchy) GrantDisplay {
	return GrantDisplay{
		GrantID:        g.ID,
		Reward:         Summarize(r),
		EarnedAt:       g.EarnedAt,
		Context:        g.Context,
		StreakCount:    g.StreakCount,
		AssociatedItem: associatedItem(g, h),
		Celebration:    CelebrationMessage(r),
		PointsMessage:  PointsMessage(r),
		Notified:       g.Notified,
	}
}

// associatedItem picks the most specific item of the grant's context.
func associatedItem(g generic.Grant, h goals.Hierarchy) *ItemSummary {
	switch {
	case g.ActionID != "":
		item := &ItemSummary{Type: "action", ID: string(g.ActionID)}
		if a, ok := h.Action(g.ActionID); ok {
			item.Title = a.Title
		}
		return item
	case g.CheckpointID != "":
		item := &ItemSummary{Type: "checkpoint", ID: string(g.CheckpointID)}
		if c, ok := h.Checkpoint(g.CheckpointID); ok {
			item.Title = c.Title
		}
		return item
	case g.ObjectiveID != "":
		item := &ItemSummary{Type: "objective", ID: string(g.ObjectiveID)}
		if o, ok := h.Objective(g.ObjectiveID); ok {
			item.Title = o.Title
		}
		return item
	}
	return nil
}

func CelebrationMessage(r Reward) string {
	base := fmt.Sprintf("🎉 Achievement Unlocked: %s!", r.Name)
	switch r.Rarity {
	case RarityLegendary:
		return "🌟 LEGENDARY " + base + " This is incredibly rare!"
	case RarityEpic:
		return "⭐ EPIC " + base + " Amazing work!"
	case RarityRare:
		return "✨ RARE " + base + " Well done!"
	}
	return base
}

func PointsMessage(r Reward) string {
	return fmt.Sprintf("You earned %d points! 🏆", r.Points)
}
