package rewards

import "github.com/shopspring/decimal"

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultCatalog returns the built-in rewards. IDs are assigned when the
// catalog is seeded into a store.
func DefaultCatalog() []Reward {
	streak := func(name, desc, icon string, rarity Rarity, points, days int) Reward {
		return Reward{Name: name, Description: desc, Icon: icon, Category: CategoryStreak,
			Rarity: rarity, Points: points, Active: true, Criteria: StreakCriteria{Days: days}}
	}
	progress := func(name, desc, icon string, rarity Rarity, points int, pct int64) Reward {
		return Reward{Name: name, Description: desc, Icon: icon, Category: CategoryCheckpointProgress,
			Rarity: rarity, Points: points, Active: true, Criteria: ProgressCriteria{Percentage: decimal.NewFromInt(pct)}}
	}
	completion := func(name, desc, icon string, rarity Rarity, points int, ct CompletionType) Reward {
		return Reward{Name: name, Description: desc, Icon: icon, Category: CategoryObjectiveCompletion,
			Rarity: rarity, Points: points, Active: true, Criteria: CompletionCriteria{Type: ct, RequiredCount: DefaultRequiredCount}}
	}
	special := func(name, desc, icon string, rarity Rarity, points int, st SpecialType, repeatable bool) Reward {
		return Reward{Name: name, Description: desc, Icon: icon, Category: CategorySpecial,
			Rarity: rarity, Points: points, Active: true, Repeatable: repeatable,
			Criteria: SpecialCriteria{Type: st, Threshold: st.DefaultThreshold()}}
	}

	return []Reward{
		streak("First Steps", "Complete your first habit", "👶", RarityCommon, 10, 1),
		streak("Getting Started", "Complete a habit for 3 periods in a row", "🔥", RarityCommon, 25, 3),
		streak("Week Warrior", "Complete a habit for 7 periods in a row", "⚡", RarityRare, 50, 7),
		streak("Habit Master", "Complete a habit for 30 periods in a row", "👑", RarityEpic, 100, 30),
		streak("Legendary Streak", "Complete a habit for 100 periods in a row", "🏆", RarityLegendary, 250, 100),

		progress("Progress Maker", "Reach 50% progress on a checkpoint", "📈", RarityCommon, 20, 50),
		progress("Almost There", "Reach 90% progress on a checkpoint", "🎯", RarityRare, 40, 90),

		completion("First Blueprint", "Create your first objective", "🗺️", RarityCommon, 10, CompletionCreation),
		completion("Goal Crusher", "Complete an objective", "💪", RarityEpic, 100, CompletionFull),
		completion("Speed Demon", "Complete an objective before its target date", "🚀", RarityLegendary, 150, CompletionEarly),
		completion("On Schedule", "Complete an objective by its target date", "📅", RarityRare, 50, CompletionOnTime),

		special("Early Bird", "Complete a habit before 8 AM", "🌅", RarityRare, 15, SpecialEarlyBird, true),
		special("Night Owl", "Complete a habit after 10 PM", "🦉", RarityRare, 15, SpecialNightOwl, true),
		special("Perfectionist", "Complete all habits in a checkpoint", "✨", RarityEpic, 75, SpecialPerfectionist, false),
		special("Comeback Kid", "Complete a habit after missing it for 3+ periods", "🔁", RarityRare, 30, SpecialComebackKid, true),
		special("Weekend Warrior", "Complete habits on weekends", "🏖️", RarityRare, 20, SpecialWeekendWarrior, true),
		special("Milestone Master", "Complete 5 checkpoints", "🏅", RarityRare, 25, SpecialMilestoneAchiever, false),
		special("Streak Legend", "Hold a 30 period streak", "🌟", RarityLegendary, 100, SpecialStreakLegend, false),
		special("Perfect Week", "Keep every daily habit going for 7 days", "🗓️", RarityEpic, 50, SpecialPerfectWeek, false),
		special("Habit Machine", "Accumulate 100 streak days across habits", "⚙️", RarityEpic, 75, SpecialHabitMaster, false),
		special("Consistency Champion", "Keep 3 habits at 80% completion or better", "🎖️", RarityEpic, 50, SpecialConsistencyChampion, false),
		special("Blueprint Architect", "Complete 3 objectives", "🏛️", RarityLegendary, 100, SpecialBlueprintArchitect, false),
	}
}
