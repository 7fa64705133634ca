// Package catalog defines the data types exchanged between the gateway,
// the caches and the upstream client.
package catalog

// Item is a single catalog entry as served to clients. Identity is the
// stable upstream id. Items are never mutated after construction; a
// re-fetch produces a replacement value.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`

	// Optional fields are nil when the upstream record does not carry them.
	RecommendedPlayers     *int `json:"recommendedPlayers,omitempty"`
	AveragePlayTimeMinutes *int `json:"averagePlayTimeMinutes,omitempty"`
	MinAge                 *int `json:"minAge,omitempty"`

	Genres []string `json:"genres"`
}

// SearchCandidate is the lightweight (id, name) projection returned by a
// name search and consumed by the ranker.
type SearchCandidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
