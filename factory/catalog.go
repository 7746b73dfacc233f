/*
Package factory converts reward definitions between their open, file and
storage form (a category plus a key/value criteria map) and the typed
rewards.Reward the engine evaluates.

PURPOSE:
  Criteria payloads are decoded once, here, into the closed set of
  rewards.Criteria variants. Nothing downstream inspects raw maps.

FILE SCHEMA (YAML or JSON):
  rewards:
    - name: Week Warrior
      description: Complete a habit for 7 periods in a row
      icon: "⚡"
      category: streak              # or the legacy habit_streak
      rarity: rare
      points: 50                    # defaults to the rarity's points
      criteria:
        streak_days: 7

CRITERIA KEYS BY CATEGORY:
  streak:               streak_days (default 7)
  checkpoint_progress:  progress_percentage (default 50)
  objective_completion: completion_type, required_count (default 1)
  special:              special_type, threshold
  any:                  repeatable

MALFORMED PAYLOADS:
  A catalog file with an unknown category or rarity is rejected. A stored
  record that no longer decodes becomes rewards.InvalidCriteria, which never
  matches, so one bad row can't stop evaluation of the rest.

SEE ALSO:
  - rewards/criteria.go: Criteria variants
  - rewards/catalog.go: Built-in catalog
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

type RewardJSON struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Icon        string         `json:"icon,omitempty" yaml:"icon,omitempty"`
	Category    string         `json:"category" yaml:"category"`
	Rarity      string         `json:"rarity" yaml:"rarity"`
	Points      *int           `json:"points,omitempty" yaml:"points,omitempty"`
	Color       string         `json:"color,omitempty" yaml:"color,omitempty"`
	Active      *bool          `json:"active,omitempty" yaml:"active,omitempty"`
	Criteria    map[string]any `json:"criteria" yaml:"criteria"`
}

type CatalogJSON struct {
	Rewards []RewardJSON `json:"rewards" yaml:"rewards"`
}

// =============================================================================
// CATALOG FILES
// =============================================================================

// LoadCatalogFile reads a .yaml, .yml or .json catalog.
func LoadCatalogFile(path string) ([]rewards.Reward, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseCatalogYAML(data)
	case ".json":
		return ParseCatalogJSON(data)
	}
	return nil, &generic.ValidationError{Field: "catalog_file", Value: path, Reason: "must be .yaml, .yml or .json"}
}

func ParseCatalogJSON(data []byte) ([]rewards.Reward, error) {
	var file CatalogJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog json: %w", err)
	}
	return file.toRewards()
}

func ParseCatalogYAML(data []byte) ([]rewards.Reward, error) {
	var file CatalogJSON
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return file.toRewards()
}

func (c CatalogJSON) toRewards() ([]rewards.Reward, error) {
	seen := make(map[string]bool, len(c.Rewards))
	out := make([]rewards.Reward, 0, len(c.Rewards))
	for i, rj := range c.Rewards {
		r, err := rj.ToReward()
		if err != nil {
			return nil, fmt.Errorf("reward %d (%s): %w", i, rj.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("reward %d: %w: %s", i, generic.ErrDuplicateReward, r.Name)
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

// ToReward validates a file entry and decodes its criteria.
func (rj RewardJSON) ToReward() (rewards.Reward, error) {
	if strings.TrimSpace(rj.Name) == "" {
		return rewards.Reward{}, &generic.ValidationError{Field: "name", Reason: "required"}
	}
	category, err := rewards.ParseCategory(rj.Category)
	if err != nil {
		return rewards.Reward{}, err
	}
	rarity := rewards.RarityCommon
	if rj.Rarity != "" {
		if rarity, err = rewards.ParseRarity(rj.Rarity); err != nil {
			return rewards.Reward{}, err
		}
	}
	points := rarity.Points()
	if rj.Points != nil {
		if *rj.Points < 0 {
			return rewards.Reward{}, &generic.ValidationError{Field: "points", Value: strconv.Itoa(*rj.Points), Reason: "must not be negative"}
		}
		points = *rj.Points
	}
	criteria, repeatable := DecodeCriteria(category, rj.Criteria)
	if inv, ok := criteria.(rewards.InvalidCriteria); ok {
		return rewards.Reward{}, &generic.ValidationError{Field: "criteria", Reason: inv.Reason}
	}

	return rewards.Reward{
		Name:        rj.Name,
		Description: rj.Description,
		Icon:        rj.Icon,
		Category:    category,
		Rarity:      rarity,
		Points:      points,
		Color:       rj.Color,
		Active:      rj.Active == nil || *rj.Active,
		Repeatable:  repeatable,
		Criteria:    criteria,
	}, nil
}

// =============================================================================
// CRITERIA DECODING
// =============================================================================

// DecodeCriteria turns a raw payload into a typed variant. It never fails:
// anything malformed yields rewards.InvalidCriteria.
func DecodeCriteria(category rewards.Category, payload map[string]any) (rewards.Criteria, bool) {
	repeatable, ok := boolKey(payload, "repeatable", false)
	if !ok {
		return rewards.InvalidCriteria{Reason: "repeatable must be a boolean"}, false
	}

	switch category {
	case rewards.CategoryStreak:
		days, ok := intKey(payload, "streak_days", rewards.DefaultStreakDays)
		if !ok || days <= 0 {
			return rewards.InvalidCriteria{Reason: "streak_days must be a positive integer"}, repeatable
		}
		return rewards.StreakCriteria{Days: days}, repeatable

	case rewards.CategoryCheckpointProgress:
		pct, ok := decimalKey(payload, "progress_percentage", rewards.DefaultProgressPercentage)
		if !ok || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return rewards.InvalidCriteria{Reason: "progress_percentage must be between 0 and 100"}, repeatable
		}
		return rewards.ProgressCriteria{Percentage: pct}, repeatable

	case rewards.CategoryObjectiveCompletion:
		ct, _ := payload["completion_type"].(string)
		switch t := rewards.CompletionType(ct); t {
		case rewards.CompletionCreation, rewards.CompletionFull, rewards.CompletionEarly,
			rewards.CompletionOnTime, rewards.CompletionAny:
		default:
			return rewards.InvalidCriteria{Reason: "unknown completion_type " + strconv.Quote(ct)}, repeatable
		}
		count, ok := intKey(payload, "required_count", rewards.DefaultRequiredCount)
		if !ok || count <= 0 {
			return rewards.InvalidCriteria{Reason: "required_count must be a positive integer"}, repeatable
		}
		return rewards.CompletionCriteria{Type: rewards.CompletionType(ct), RequiredCount: count}, repeatable

	case rewards.CategorySpecial:
		st, _ := payload["special_type"].(string)
		if st == "" {
			return rewards.InvalidCriteria{Reason: "special_type is required"}, repeatable
		}
		typ := rewards.SpecialType(st)
		fallback, _ := intKey(payload, "required_count", typ.DefaultThreshold())
		threshold, ok := intKey(payload, "threshold", fallback)
		if !ok || threshold < 0 {
			return rewards.InvalidCriteria{Reason: "threshold must be a non-negative integer"}, repeatable
		}
		return rewards.SpecialCriteria{Type: typ, Threshold: threshold}, repeatable
	}
	return rewards.InvalidCriteria{Reason: "unknown category " + strconv.Quote(string(category))}, repeatable
}

// EncodeCriteria is the inverse of DecodeCriteria.
func EncodeCriteria(r rewards.Reward) map[string]any {
	out := map[string]any{}
	switch c := r.Criteria.(type) {
	case rewards.StreakCriteria:
		out["streak_days"] = c.Days
	case rewards.ProgressCriteria:
		out["progress_percentage"] = c.Percentage.InexactFloat64()
	case rewards.CompletionCriteria:
		if c.Type != rewards.CompletionAny {
			out["completion_type"] = string(c.Type)
		}
		out["required_count"] = c.RequiredCount
	case rewards.SpecialCriteria:
		out["special_type"] = string(c.Type)
		if c.Threshold > 0 {
			out["threshold"] = c.Threshold
		}
	}
	if r.Repeatable {
		out["repeatable"] = true
	}
	return out
}

func intKey(m map[string]any, key string, def int) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, true
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func decimalKey(m map[string]any, key string, def decimal.Decimal) (decimal.Decimal, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, true
	}
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func boolKey(m map[string]any, key string, def bool) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, true
	}
	b, ok := v.(bool)
	return b, ok
}

// =============================================================================
// STORAGE RECORDS
// =============================================================================

func RecordFromReward(r rewards.Reward) generic.RewardRecord {
	return generic.RewardRecord{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Icon:        r.Icon,
		Category:    string(r.Category),
		Rarity:      string(r.Rarity),
		Points:      r.Points,
		Color:       r.DisplayColor(),
		Active:      r.Active,
		Criteria:    EncodeCriteria(r),
		TimesEarned: r.TimesEarned,
	}
}

// RewardFromRecord decodes a stored reward. Undecodable records come back
// with InvalidCriteria rather than an error.
func RewardFromRecord(rec generic.RewardRecord) rewards.Reward {
	r := rewards.Reward{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Icon:        rec.Icon,
		Rarity:      rewards.Rarity(rec.Rarity),
		Points:      rec.Points,
		Color:       rec.Color,
		Active:      rec.Active,
		TimesEarned: rec.TimesEarned,
	}
	category, err := rewards.ParseCategory(rec.Category)
	if err != nil {
		r.Category = rewards.Category(rec.Category)
		r.Criteria = rewards.InvalidCriteria{Reason: err.Error()}
		return r
	}
	r.Category = category
	r.Criteria, r.Repeatable = DecodeCriteria(category, rec.Criteria)
	return r
}

// Seed saves each reward (find-or-create by name) and returns them as
// stored, with IDs and counters.
func Seed(ctx context.Context, store generic.RewardStore, rs []rewards.Reward) ([]rewards.Reward, error) {
	out := make([]rewards.Reward, 0, len(rs))
	for _, r := range rs {
		rec, err := store.SaveReward(ctx, RecordFromReward(r))
		if err != nil {
			return nil, fmt.Errorf("seed reward %q: %w", r.Name, err)
		}
		out = append(out, RewardFromRecord(rec))
	}
	return out, nil
}

// =============================================================================
// STORE-BACKED CATALOG
// =============================================================================

// StoreCatalog reads the catalog from storage on every call, so counter and
// activation changes are always current.
type StoreCatalog struct {
	Store generic.RewardStore
}

var _ rewards.Catalog = StoreCatalog{}

func (c StoreCatalog) Rewards(ctx context.Context) ([]rewards.Reward, error) {
	recs, err := c.Store.ListRewards(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rewards.Reward, len(recs))
	for i, rec := range recs {
		out[i] = RewardFromRecord(rec)
	}
	return out, nil
}
