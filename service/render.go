package service

import (
	"fmt"
	"strings"
	"time"

	"chatpoll-backend/ledger"
	"chatpoll-backend/models"
)

var digitEmoji = [...]string{
	":zero:", ":one:", ":two:", ":three:", ":four:",
	":five:", ":six:", ":seven:", ":eight:", ":nine:",
}

// NumberEmoji spells a non-negative number with digit emoji, e.g. 12 is
// ":one: :two:".
func NumberEmoji(n int) string {
	if n < 0 {
		return "-"
	}
	if n > 9 {
		return NumberEmoji(n/10) + " " + NumberEmoji(n%10)
	}
	return digitEmoji[n]
}

// ParseOptions splits a newline separated block into trimmed, non-blank
// option labels.
func ParseOptions(text string) []string {
	var options []string
	for _, line := range strings.Split(text, "\n") {
		if label := strings.TrimSpace(line); label != "" {
			options = append(options, label)
		}
	}
	return options
}

func voteCount(n int) string {
	switch n {
	case 0:
		return "no votes"
	case 1:
		return "1 vote"
	default:
		return fmt.Sprintf("%d votes", n)
	}
}

func mentions(voters []string) string {
	var b strings.Builder
	for _, v := range voters {
		b.WriteString("<@")
		b.WriteString(v)
		b.WriteString(">")
	}
	return b.String()
}

// OptionView is one option as seen by a particular viewer. Count and Voters
// are omitted when the viewer may not see them.
type OptionView struct {
	Index  int      `json:"index"`
	Emoji  string   `json:"emoji"`
	Label  string   `json:"label"`
	Count  *int     `json:"count,omitempty"`
	Voters []string `json:"voters,omitempty"`
	Text   string   `json:"text"`
}

// PollView is a poll rendered for one viewer.
type PollView struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	ChannelID       string            `json:"channel_id,omitempty"`
	CreatorID       string            `json:"creator_id"`
	Status          models.PollStatus `json:"status"`
	MaxVotesPerUser int               `json:"max_votes_per_user"`
	CloseAt         time.Time         `json:"close_at"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	ShowNames       bool              `json:"show_names"`
	ShowCounts      bool              `json:"show_counts"`
	Options         []OptionView      `json:"options"`
	TotalVotes      *int              `json:"total_votes,omitempty"`
	Footer          string            `json:"footer"`
	MyVotes         []int             `json:"my_votes"`
}

func renderView(poll *models.Poll, stats ledger.Statistics, viewerID string, myVotes []int) *PollView {
	showNames := NamesVisible(poll, viewerID)
	showCounts := CountsVisible(poll, viewerID)

	view := &PollView{
		ID:              poll.ID,
		Title:           poll.Title,
		ChannelID:       poll.ChannelID,
		CreatorID:       poll.CreatorID,
		Status:          poll.Status,
		MaxVotesPerUser: poll.MaxVotesPerUser,
		CloseAt:         poll.CloseAt,
		ClosedAt:        poll.ClosedAt,
		ShowNames:       showNames,
		ShowCounts:      showCounts,
		Options:         make([]OptionView, len(poll.Options)),
		MyVotes:         myVotes,
	}
	if view.MyVotes == nil {
		view.MyVotes = []int{}
	}

	for i, label := range poll.Options {
		idx := i + 1
		opt := OptionView{Index: idx, Emoji: NumberEmoji(idx), Label: label, Text: label}
		if showCounts {
			n := stats.Count(idx)
			opt.Count = &n
			opt.Text += "\n`" + voteCount(n) + "`"
		}
		if showNames {
			opt.Voters = stats.VotersFor(idx)
			opt.Text = strings.TrimRight(opt.Text+" "+mentions(opt.Voters), " ")
		}
		view.Options[i] = opt
	}

	var footer []string
	if poll.IsClosed() {
		footer = append(footer, "Poll closed.")
	}
	if showCounts {
		total := stats.TotalVotes
		view.TotalVotes = &total
		if total > 0 {
			footer = append(footer, voteCount(total)+" received.")
		}
	}
	view.Footer = strings.Join(footer, " ")
	return view
}

// SummaryText renders the private results summary sent to a poll's creator.
func SummaryText(poll *models.Poll, stats ledger.Statistics, withNames bool) string {
	var b strings.Builder
	b.WriteString("*Poll closed, here are the results*\n")
	b.WriteString(poll.Title)
	for i, label := range poll.Options {
		idx := i + 1
		fmt.Fprintf(&b, "\n%s %s\n`%s`", NumberEmoji(idx), label, voteCount(stats.Count(idx)))
		if voters := stats.VotersFor(idx); withNames && len(voters) > 0 {
			b.WriteString(" ")
			b.WriteString(mentions(voters))
		}
	}
	return b.String()
}
