package cardgame

import (
	"math/rand"

	"github.com/google/uuid"
)

// RetreatCost derives the energy threshold to retreat a card from its
// current HP: tanks are harder to pull back.
func RetreatCost(currentHP int) int {
	switch {
	case currentHP >= 200:
		return 3
	case currentHP >= 100:
		return 2
	default:
		return 1
	}
}

// GenerateEnergy issues the single energy unit for a new turn. The candidate
// pool always contains the active card's own type plus two other randomly
// chosen types; the final pick is uniform over that pool. With no active
// card the pool is every type.
func GenerateEnergy(rng *rand.Rand, activeType string) Energy {
	var own *Energy
	others := make([]Energy, 0, len(EnergyTypes))
	for i := range EnergyTypes {
		if EnergyTypes[i].Type == activeType {
			own = &EnergyTypes[i]
		} else {
			others = append(others, EnergyTypes[i])
		}
	}

	var pool []Energy
	if own == nil {
		pool = others
	} else {
		rng.Shuffle(len(others), func(i, j int) {
			others[i], others[j] = others[j], others[i]
		})
		pool = append([]Energy{*own}, others[:2]...)
	}

	chosen := pool[rng.Intn(len(pool))]
	return Energy{
		ID:     "energy-" + uuid.NewString(),
		Type:   chosen.Type,
		Symbol: chosen.Symbol,
	}
}

// payEnergyCost resolves an ordered attack cost against a card's attached
// energies and returns the remaining attachments. Resolution is
// all-or-nothing: on failure the input is untouched and the caller keeps
// the original list.
//
// Colorless slots consume any remaining energy. Non-Colorless slots prefer
// an energy matching the card's own type when the slot names that type,
// otherwise require an exact type match.
func payEnergyCost(attached []Energy, cost []string, cardType string) ([]Energy, bool) {
	pool := append([]Energy(nil), attached...)

	take := func(idx int) {
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	find := func(typ string) int {
		for i, e := range pool {
			if e.Type == typ {
				return i
			}
		}
		return -1
	}

	for _, slot := range cost {
		switch {
		case slot == "Colorless":
			if len(pool) == 0 {
				return nil, false
			}
			take(0)
		case slot == cardType:
			idx := find(cardType)
			if idx == -1 {
				return nil, false
			}
			take(idx)
		default:
			idx := find(slot)
			if idx == -1 {
				return nil, false
			}
			take(idx)
		}
	}
	return pool, true
}

// CanPayEnergyCost reports whether the attached multiset can satisfy cost.
func CanPayEnergyCost(attached []Energy, cost []string, cardType string) bool {
	_, ok := payEnergyCost(attached, cost, cardType)
	return ok
}
