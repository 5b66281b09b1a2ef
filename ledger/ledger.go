// Package ledger implements the per-bucket vote record of a poll.
//
// A bucket record is a single string: per-option voter lists joined by "|",
// where position k holds the voters of option k+1, and each voter list is a
// ","-joined set of voter ids. Trailing empty positions may be missing and are
// read as "no voters". All functions here are pure; option indexes are 1-based
// and must be validated by the caller against the poll's option count.
package ledger

import (
	"slices"
	"strings"
)

const (
	optionSeparator = "|"
	voterSeparator  = ","
)

// ValidVoterID reports whether voterID can be stored in a bucket record. Ids
// must be non-empty and must not contain either separator.
func ValidVoterID(voterID string) bool {
	return strings.TrimSpace(voterID) != "" &&
		!strings.Contains(voterID, optionSeparator) &&
		!strings.Contains(voterID, voterSeparator)
}

// HasVote reports whether voterID voted for the option at optionIndex.
func HasVote(encoding, voterID string, optionIndex int) bool {
	positions := strings.Split(encoding, optionSeparator)
	if optionIndex < 1 || len(positions) < optionIndex {
		return false
	}
	return slices.Contains(splitVoters(positions[optionIndex-1]), voterID)
}

// AddVote returns encoding with voterID added to the option at optionIndex.
// Missing positions up to optionIndex are filled with empty voter lists.
// Adding a vote that already exists returns the encoding unchanged.
func AddVote(encoding, voterID string, optionIndex int) string {
	if optionIndex < 1 {
		return encoding
	}
	positions := strings.Split(encoding, optionSeparator)
	for len(positions) < optionIndex {
		positions = append(positions, "")
	}

	voters := splitVoters(positions[optionIndex-1])
	if slices.Contains(voters, voterID) {
		return encoding
	}
	positions[optionIndex-1] = strings.Join(append(voters, voterID), voterSeparator)
	return strings.Join(positions, optionSeparator)
}

// RemoveVote returns encoding with voterID removed from the option at
// optionIndex. The positional sequence is never shrunk.
func RemoveVote(encoding, voterID string, optionIndex int) string {
	positions := strings.Split(encoding, optionSeparator)
	if optionIndex < 1 || len(positions) < optionIndex {
		return encoding
	}

	voters := splitVoters(positions[optionIndex-1])
	if !slices.Contains(voters, voterID) {
		return encoding
	}
	voters = slices.DeleteFunc(voters, func(v string) bool { return v == voterID })
	positions[optionIndex-1] = strings.Join(voters, voterSeparator)
	return strings.Join(positions, optionSeparator)
}

// VotedOptions returns the 1-based option indexes voterID voted for, ascending.
func VotedOptions(encoding, voterID string) []int {
	var options []int
	for i, position := range strings.Split(encoding, optionSeparator) {
		if slices.Contains(splitVoters(position), voterID) {
			options = append(options, i+1)
		}
	}
	return options
}

// CountVotes returns how many options voterID voted for.
func CountVotes(encoding, voterID string) int {
	return len(VotedOptions(encoding, voterID))
}

// splitVoters decodes one positional voter list. An empty position has no
// voters, and empty ids left by hand-edited records are skipped.
func splitVoters(position string) []string {
	if position == "" {
		return nil
	}
	voters := strings.Split(position, voterSeparator)
	return slices.DeleteFunc(voters, func(v string) bool { return v == "" })
}
