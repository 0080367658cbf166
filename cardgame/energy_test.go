package cardgame

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetreatCost(t *testing.T) {
	assert.Equal(t, 1, RetreatCost(0))
	assert.Equal(t, 1, RetreatCost(99))
	assert.Equal(t, 2, RetreatCost(100))
	assert.Equal(t, 2, RetreatCost(199))
	assert.Equal(t, 3, RetreatCost(200))
	assert.Equal(t, 3, RetreatCost(350))
}

func TestGenerateEnergy_BiasedPool(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	// With an active Fire card the pool is Fire plus two random others, so
	// Fire should show up far more often than a uniform draw over all
	// seven types would produce.
	fire := 0
	const rounds = 700
	for i := 0; i < rounds; i++ {
		e := GenerateEnergy(rng, "Fire")
		require.NotEmpty(t, e.ID)
		require.NotEmpty(t, e.Type)
		if e.Type == "Fire" {
			fire++
		}
	}
	// Expected rate is 1/3; a uniform pool would give 1/7.
	assert.Greater(t, fire, rounds/5)
}

func TestGenerateEnergy_NoActiveCard(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		e := GenerateEnergy(rng, "")
		seen[e.Type] = true
	}
	// Every type is reachable when there is no active card to bias toward.
	assert.Len(t, seen, len(EnergyTypes))
}

func TestPayEnergyCost(t *testing.T) {
	attached := []Energy{
		{ID: "a", Type: "Water"},
		{ID: "b", Type: "Fire"},
		{ID: "c", Type: "Fire"},
	}

	// Colorless consumes any energy, the Fire slot an exact match.
	remaining, ok := payEnergyCost(attached, []string{"Colorless", "Fire"}, "Fire")
	require.True(t, ok)
	assert.Len(t, remaining, 1)

	// All-or-nothing: a missing type leaves the input untouched.
	remaining, ok = payEnergyCost(attached, []string{"Psychic"}, "Fire")
	assert.False(t, ok)
	assert.Nil(t, remaining)
	assert.Len(t, attached, 3)

	// Cost longer than the pool fails even with wildcards.
	_, ok = payEnergyCost(attached[:1], []string{"Colorless", "Colorless"}, "Water")
	assert.False(t, ok)

	assert.True(t, CanPayEnergyCost(attached, []string{"Fire", "Fire", "Colorless"}, "Fire"))
	assert.False(t, CanPayEnergyCost(attached, []string{"Fire", "Fire", "Fire"}, "Fire"))
}
