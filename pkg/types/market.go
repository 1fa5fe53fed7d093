package types

import (
	"fmt"
	"time"
)

// Venue identifies a supported exchange platform.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// ParseVenue converts a string into a known Venue.
func ParseVenue(s string) (Venue, error) {
	switch Venue(s) {
	case VenuePolymarket, VenueKalshi:
		return Venue(s), nil
	default:
		return "", fmt.Errorf("unknown venue: %q", s)
	}
}

// Outcome names one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// UnifiedMarket is the venue-agnostic projection of a binary market.
// Every active market carries exactly two outcome tokens (YES and NO),
// each with its own venue-scoped token identifier.
type UnifiedMarket struct {
	Venue      Venue
	ID         string // venue-scoped market identifier
	Question   string
	EndDate    time.Time
	Volume     float64 // quoted total traded volume in USD
	YesTokenID string
	NoTokenID  string
	Active     bool
}

// Key returns the venue-qualified market key used for locks, cooldowns and
// cache entries.
func (m *UnifiedMarket) Key() string {
	return string(m.Venue) + ":" + m.ID
}

// TokenID returns the token identifier for the given outcome.
func (m *UnifiedMarket) TokenID(outcome Outcome) string {
	if outcome == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// TokenKey returns the venue-qualified token key used by the book manager.
func TokenKey(venue Venue, tokenID string) string {
	return string(venue) + ":" + tokenID
}
