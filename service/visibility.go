package service

import "chatpoll-backend/models"

// VisibleTo reports whether a viewer may see one dimension (names or counts)
// of a poll. The during setting applies while the poll is open, the after
// setting once it is closed.
func VisibleTo(during, after models.VisibilitySetting, status models.PollStatus, viewerIsCreator bool) bool {
	setting := during
	if status == models.PollStatusClosed {
		setting = after
	}

	switch setting {
	case models.VisibleToEveryone:
		return true
	case models.VisibleToCreator:
		return viewerIsCreator
	default:
		return false
	}
}

// NamesVisible reports whether viewerID may see who voted for what.
func NamesVisible(poll *models.Poll, viewerID string) bool {
	v := poll.Visibility
	return VisibleTo(v.NamesDuring, v.NamesAfter, poll.Status, poll.IsCreator(viewerID))
}

// CountsVisible reports whether viewerID may see vote counts.
func CountsVisible(poll *models.Poll, viewerID string) bool {
	v := poll.Visibility
	return VisibleTo(v.CountsDuring, v.CountsAfter, poll.Status, poll.IsCreator(viewerID))
}

// needsSummary reports whether the creator gets a private results summary on
// close, and whether it includes voter names.
func needsSummary(poll *models.Poll) (send, withNames bool) {
	withNames = poll.Visibility.NamesAfter == models.VisibleToCreator
	send = withNames || poll.Visibility.CountsAfter == models.VisibleToCreator
	return send, withNames
}
