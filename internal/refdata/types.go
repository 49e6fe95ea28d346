package refdata

import "time"

// Entry is one tradable instrument in a market's reference listing.
// Entries are immutable once loaded; a market's full set is replaced
// atomically on refresh.
type Entry struct {
	CanonicalID   string `json:"code"`
	PrimaryName   string `json:"primary_name"`
	AlternateName string `json:"alternate_name"`
}

// snapshot is the unit of replacement inside the cache.
type snapshot struct {
	entries   []Entry
	fetchedAt time.Time
}

func (s *snapshot) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.fetchedAt) >= ttl
}
