package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czefenglim/pokebattle/cardgame"
)

func testCards() []cardgame.Card {
	return []cardgame.Card{
		{TokenID: 1, TcgID: "base-4", Name: "Charizard", Type: "Fire", Rarity: "Rare", MaxHP: 120},
		{TokenID: 2, TcgID: "base-58", Name: "Pikachu", Type: "Electric", Rarity: "Common", MaxHP: 60},
		{TokenID: 9, TcgID: "base-63", Name: "Squirtle", Type: "Water", Rarity: "Common", MaxHP: 50},
		// Not minted yet: catalogue-only card.
		{TcgID: "base-99", Name: "Promo", Type: "Psychic", Rarity: "Promo", MaxHP: 70},
	}
}

func TestNewIndexesCards(t *testing.T) {
	c, err := New(testCards(), map[string][]string{
		"starter": {"base-58", "base-63"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(9), c.MaxTokenID())

	card, ok := c.CardByTokenID(1)
	require.True(t, ok)
	assert.Equal(t, "Charizard", card.Name)

	// Unminted cards are not reachable by token id.
	_, ok = c.CardByTokenID(0)
	assert.False(t, ok)
	_, ok = c.CardByTokenID(3)
	assert.False(t, ok)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New([]cardgame.Card{{TokenID: 1, Name: "NoID"}}, nil)
	assert.Error(t, err)

	_, err = New([]cardgame.Card{
		{TcgID: "dup", Name: "A"},
		{TcgID: "dup", Name: "B"},
	}, nil)
	assert.Error(t, err)

	_, err = New(testCards(), map[string][]string{"bad": {"missing-card"}})
	assert.Error(t, err)
}

func TestFetchDeckResetsHP(t *testing.T) {
	cards := testCards()
	cards[1].HP = 10 // stale damage in the source data
	c, err := New(cards, map[string][]string{
		"starter": {"base-58", "base-58", "base-63"},
	})
	require.NoError(t, err)

	deck, err := c.FetchDeck(context.Background(), "player1", "starter")
	require.NoError(t, err)
	require.Len(t, deck, 3)
	assert.Equal(t, 60, deck[0].HP)
	assert.Equal(t, deck[0].MaxHP, deck[0].HP)

	_, err = c.FetchDeck(context.Background(), "player1", "nope")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	data, err := json.Marshal(fileFormat{
		Cards: testCards(),
		Decks: map[string][]string{"starter": {"base-4"}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	deck, err := c.FetchDeck(context.Background(), "p", "starter")
	require.NoError(t, err)
	assert.Equal(t, "Charizard", deck[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
