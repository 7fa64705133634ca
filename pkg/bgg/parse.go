package bgg

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"

	"github.com/meeplemeet/go-catalog/pkg/catalog"
)

// The upstream wire format is XML: a flat <items> list whose <item>
// children carry scalar fields as value attributes. Parsing is tolerant:
// a record missing its id or primary name is dropped, optional fields are
// left absent when missing or malformed, and only an unparseable document
// is an error.

type xmlItems struct {
	XMLName xml.Name  `xml:"items"`
	Items   []xmlItem `xml:"item"`
}

type xmlItem struct {
	ID          string         `xml:"id,attr"`
	Names       []xmlName      `xml:"name"`
	Description string         `xml:"description"`
	Image       string         `xml:"image"`
	MinPlayers  xmlValue       `xml:"minplayers"`
	MaxPlayers  xmlValue       `xml:"maxplayers"`
	PlayingTime xmlValue       `xml:"playingtime"`
	MinAge      xmlValue       `xml:"minage"`
	Links       []xmlLink      `xml:"link"`
	PollSummary xmlPollSummary `xml:"poll-summary"`
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlValue struct {
	Value string `xml:"value,attr"`
}

type xmlLink struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlPollSummary struct {
	Name    string          `xml:"name,attr"`
	Results []xmlPollResult `xml:"result"`
}

type xmlPollResult struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

var firstNumber = regexp.MustCompile(`\d+`)

// parseItems decodes a things-by-id response into catalog items.
func parseItems(payload []byte) ([]catalog.Item, error) {
	var doc xmlItems
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode items payload: %w", err)
	}

	items := make([]catalog.Item, 0, len(doc.Items))
	for _, raw := range doc.Items {
		name, ok := primaryName(raw.Names)
		if raw.ID == "" || !ok {
			// Required identity fields missing; drop this record only.
			continue
		}

		item := catalog.Item{
			ID:          raw.ID,
			Name:        name,
			Description: raw.Description,
			ImageURL:    raw.Image,
			Genres:      []string{},
		}
		if v, ok := parseInt(raw.MinPlayers.Value); ok {
			item.MinPlayers = v
		}
		if v, ok := parseInt(raw.MaxPlayers.Value); ok {
			item.MaxPlayers = v
		}
		if v, ok := parseInt(raw.PlayingTime.Value); ok {
			item.AveragePlayTimeMinutes = &v
		}
		if v, ok := parseInt(raw.MinAge.Value); ok {
			item.MinAge = &v
		}
		if v, ok := recommendedPlayers(raw.PollSummary); ok {
			item.RecommendedPlayers = &v
		}
		for _, link := range raw.Links {
			if link.Type == "boardgamecategory" && link.Value != "" {
				item.Genres = append(item.Genres, link.Value)
			}
		}

		items = append(items, item)
	}
	return items, nil
}

// parseSearch decodes a name-search response into ranking candidates.
// Entries without a primary name are discarded.
func parseSearch(payload []byte) ([]catalog.SearchCandidate, error) {
	var doc xmlItems
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", err)
	}

	candidates := make([]catalog.SearchCandidate, 0, len(doc.Items))
	for _, raw := range doc.Items {
		name, ok := primaryName(raw.Names)
		if raw.ID == "" || !ok {
			continue
		}
		candidates = append(candidates, catalog.SearchCandidate{ID: raw.ID, Name: name})
	}
	return candidates, nil
}

// primaryName picks the name entry tagged primary, falling back to a
// single untyped name.
func primaryName(names []xmlName) (string, bool) {
	for _, n := range names {
		if n.Type == "primary" && n.Value != "" {
			return n.Value, true
		}
	}
	if len(names) == 1 && names[0].Type == "" && names[0].Value != "" {
		return names[0].Value, true
	}
	return "", false
}

// recommendedPlayers extracts the community player-count recommendation
// from the suggested_numplayers poll summary, e.g. "Best with 4 players".
func recommendedPlayers(summary xmlPollSummary) (int, bool) {
	if summary.Name != "suggested_numplayers" {
		return 0, false
	}
	for _, result := range summary.Results {
		if result.Name != "bestwith" && result.Name != "recommmendedwith" {
			continue
		}
		if match := firstNumber.FindString(result.Value); match != "" {
			if v, err := strconv.Atoi(match); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
