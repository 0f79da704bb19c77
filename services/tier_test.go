package services

import (
	"testing"

	"imi-student-dashboard/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		lifetime int64
		want     models.Tier
	}{
		{0, models.TierBronze},
		{1, models.TierBronze},
		{2499, models.TierBronze},
		{2500, models.TierSilver},
		{4999, models.TierSilver},
		{5000, models.TierGold},
		{9999, models.TierGold},
		{10000, models.TierPlatinum},
		{1_000_000, models.TierPlatinum},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTier(tt.lifetime), "lifetime=%d", tt.lifetime)
	}
}

func TestClassifyTierIsMonotonic(t *testing.T) {
	rank := map[models.Tier]int{}
	for i, th := range TierThresholds {
		rank[th.Tier] = i
	}

	prev := ClassifyTier(0)
	for xp := int64(0); xp <= 12000; xp += 50 {
		cur := ClassifyTier(xp)
		assert.GreaterOrEqual(t, rank[cur], rank[prev], "tier went down at %d", xp)
		prev = cur
	}
}

func TestNextTier(t *testing.T) {
	tier, need, ok := NextTier(0)
	assert.True(t, ok)
	assert.Equal(t, models.TierSilver, tier)
	assert.Equal(t, int64(2500), need)

	tier, need, ok = NextTier(4999)
	assert.True(t, ok)
	assert.Equal(t, models.TierGold, tier)
	assert.Equal(t, int64(1), need)

	tier, need, ok = NextTier(10000)
	assert.False(t, ok)
	assert.Empty(t, tier)
	assert.Zero(t, need)
}

func TestTierDisplayName(t *testing.T) {
	assert.Equal(t, "Bronze", TierDisplayName(models.TierBronze))
	assert.Equal(t, "Platinum", TierDisplayName(models.TierPlatinum))
	assert.Equal(t, "", TierDisplayName(""))
}
