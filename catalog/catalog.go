// Package catalog maps the minted token-id space to card metadata and
// holds the prebuilt deck lists players pick from. It backs both the
// escrow coordinator's card lookups and the battle deck fetches.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/czefenglim/pokebattle/cardgame"
)

// fileFormat is the on-disk catalog shape.
type fileFormat struct {
	Cards []cardgame.Card     `json:"cards"`
	Decks map[string][]string `json:"decks"`
}

// Catalog is an immutable in-memory card index. Safe for concurrent use.
type Catalog struct {
	cards      []cardgame.Card
	byToken    map[int64]cardgame.Card
	byTcg      map[string]cardgame.Card
	decks      map[string][]string
	maxTokenID int64
}

// Load reads a catalog JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(ff.Cards, ff.Decks)
}

// New builds a catalog from in-memory cards and deck lists.
func New(cards []cardgame.Card, decks map[string][]string) (*Catalog, error) {
	c := &Catalog{
		cards:   cards,
		byToken: make(map[int64]cardgame.Card, len(cards)),
		byTcg:   make(map[string]cardgame.Card, len(cards)),
		decks:   decks,
	}
	for _, card := range cards {
		if card.TcgID == "" {
			return nil, fmt.Errorf("card %q has no tcg id", card.Name)
		}
		if _, dup := c.byTcg[card.TcgID]; dup {
			return nil, fmt.Errorf("duplicate tcg id %q", card.TcgID)
		}
		c.byTcg[card.TcgID] = card
		if card.TokenID > 0 {
			c.byToken[card.TokenID] = card
			if card.TokenID > c.maxTokenID {
				c.maxTokenID = card.TokenID
			}
		}
	}
	for deckID, list := range decks {
		for _, tcgID := range list {
			if _, ok := c.byTcg[tcgID]; !ok {
				return nil, fmt.Errorf("deck %q references unknown card %q", deckID, tcgID)
			}
		}
	}
	return c, nil
}

// CardByTokenID resolves a minted token to its card.
func (c *Catalog) CardByTokenID(tokenID int64) (cardgame.Card, bool) {
	card, ok := c.byToken[tokenID]
	return card, ok
}

// MaxTokenID is the top of the minted id space.
func (c *Catalog) MaxTokenID() int64 { return c.maxTokenID }

// Cards returns all catalogued cards.
func (c *Catalog) Cards() []cardgame.Card {
	return append([]cardgame.Card(nil), c.cards...)
}

// FetchDeck resolves a deck list to fresh card copies with full HP. The
// user id is accepted for interface parity; prebuilt decks are shared.
func (c *Catalog) FetchDeck(_ context.Context, _ string, deckID string) ([]cardgame.Card, error) {
	list, ok := c.decks[deckID]
	if !ok {
		return nil, fmt.Errorf("unknown deck %q", deckID)
	}
	deck := make([]cardgame.Card, 0, len(list))
	for _, tcgID := range list {
		card := c.byTcg[tcgID]
		card.HP = card.MaxHP
		deck = append(deck, card)
	}
	return deck, nil
}

var _ cardgame.DeckStore = (*Catalog)(nil)
