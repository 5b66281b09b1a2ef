package ledger

import (
	"sort"
	"strings"
)

// Statistics is the tally of a poll across all of its bucket records.
type Statistics struct {
	// Voters maps a 1-based option index to the ids that voted for it.
	Voters map[int][]string `json:"voters"`
	// TotalVotes is the sum of all per-option voter counts.
	TotalVotes int `json:"total_votes"`
}

// Count returns the number of voters for an option.
func (s Statistics) Count(optionIndex int) int {
	return len(s.Voters[optionIndex])
}

// VotersFor returns the voters of an option, or nil when it has none.
func (s Statistics) VotersFor(optionIndex int) []string {
	return s.Voters[optionIndex]
}

// Options returns the option indexes that have at least one voter, ascending.
func (s Statistics) Options() []int {
	indexes := make([]int, 0, len(s.Voters))
	for idx := range s.Voters {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

// Aggregate combines bucket encodings into per-option voter lists.
//
// Buckets partition voters (a voter always hashes to one bucket), so lists are
// concatenated without de-duplication across buckets. Encodings shorter than
// the poll's option count simply contribute nothing to the missing options.
func Aggregate(encodings []string) Statistics {
	stats := Statistics{Voters: make(map[int][]string)}
	for _, encoding := range encodings {
		for i, position := range strings.Split(encoding, optionSeparator) {
			voters := splitVoters(position)
			if len(voters) == 0 {
				continue
			}
			stats.Voters[i+1] = append(stats.Voters[i+1], voters...)
			stats.TotalVotes += len(voters)
		}
	}
	return stats
}
