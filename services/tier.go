package services

import (
	"imi-student-dashboard/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// tierThreshold is the inclusive lower bound of lifetime XP for a tier.
type tierThreshold struct {
	Tier  models.Tier
	MinXP int64
}

// TierThresholds is ordered by ascending MinXP.
var TierThresholds = []tierThreshold{
	{Tier: models.TierBronze, MinXP: 0},
	{Tier: models.TierSilver, MinXP: 2500},
	{Tier: models.TierGold, MinXP: 5000},
	{Tier: models.TierPlatinum, MinXP: 10000},
}

// ClassifyTier returns the tier whose lower bound is the greatest one <= lifetimeXP.
// Callers must not pass negative values; they classify as bronze.
func ClassifyTier(lifetimeXP int64) models.Tier {
	tier := TierThresholds[0].Tier
	for _, t := range TierThresholds {
		if lifetimeXP < t.MinXP {
			break
		}
		tier = t.Tier
	}
	return tier
}

// NextTier returns the tier after the one lifetimeXP is in and how much XP is
// still needed to reach it. ok is false at the top tier.
func NextTier(lifetimeXP int64) (tier models.Tier, xpNeeded int64, ok bool) {
	for _, t := range TierThresholds {
		if lifetimeXP < t.MinXP {
			return t.Tier, t.MinXP - lifetimeXP, true
		}
	}
	return "", 0, false
}

var tierTitle = cases.Title(language.English)

// TierDisplayName is the label shown on the dashboard, e.g. "Platinum".
func TierDisplayName(tier models.Tier) string {
	if tier == "" {
		return ""
	}
	return tierTitle.String(string(tier))
}
