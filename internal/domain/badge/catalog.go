package badge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// DefaultCatalog returns the built-in badge definitions used when no
// catalog file is configured.
func DefaultCatalog() []model.BadgeDefinition {
	return []model.BadgeDefinition{
		{
			ID:          "first-contribution",
			Name:        "First Contribution",
			Description: "Merged a first pull request",
			Rarity:      "common",
			Category:    "milestone",
			Criteria:    model.BadgeCriteria{Type: model.CriteriaPRCount, Threshold: 1},
			Active:      true,
		},
		{
			ID:          "prolific",
			Name:        "Prolific",
			Description: "Merged fifty pull requests",
			Rarity:      "rare",
			Category:    "milestone",
			Criteria:    model.BadgeCriteria{Type: model.CriteriaPRCount, Threshold: 50},
			Active:      true,
		},
		{
			ID:          "quality-craftsman",
			Name:        "Quality Craftsman",
			Description: "Sustained an average review rating of 4.5 or better",
			Rarity:      "rare",
			Category:    "quality",
			Criteria:    model.BadgeCriteria{Type: model.CriteriaQualityRating, MinRating: 4.5, MinSample: 10},
			Active:      true,
		},
		{
			ID:          "steady-hand",
			Name:        "Steady Hand",
			Description: "Merged contributions in six consecutive months",
			Rarity:      "epic",
			Category:    "consistency",
			Criteria:    model.BadgeCriteria{Type: model.CriteriaStreak, Months: 6},
			Active:      true,
		},
	}
}

type catalogFile struct {
	Badges []model.BadgeDefinition `yaml:"badges"`
}

// LoadCatalog parses badge definitions from a YAML file.
func LoadCatalog(path string) ([]model.BadgeDefinition, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read badge catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	for i, def := range file.Badges {
		if def.ID == "" || def.Name == "" {
			return nil, fmt.Errorf("%w: entry %d missing id or name", ErrInvalidCatalog, i)
		}
		if def.Criteria.Type == "" {
			return nil, fmt.Errorf("%w: badge %s has no criteria type", ErrInvalidCatalog, def.ID)
		}
	}
	return file.Badges, nil
}

// SeedCatalog stores the given definitions, overwriting same-id entries.
func SeedCatalog(ctx context.Context, store Store, defs []model.BadgeDefinition) error {
	for _, def := range defs {
		if err := store.PutBadgeDefinition(ctx, def); err != nil {
			return fmt.Errorf("seed badge %s: %w", def.ID, err)
		}
	}
	return nil
}
