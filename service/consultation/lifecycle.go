package consultation

import (
	"net/http"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
)

var (
	ErrInvalidTransition = utils.NewError(http.StatusConflict, "invalid status transition")
	ErrNotStarted        = utils.NewError(http.StatusConflict, "consultation has not started yet")
	ErrStaleStatus       = utils.NewError(http.StatusConflict, "consultation status changed, reload and try again")
	ErrExpertOnly        = utils.NewError(http.StatusForbidden, "only the expert can make this change")
)

type actor int

const (
	expertOnly actor = iota
	eitherParty
)

// transitions lists every allowed status change and who may make it.
// Statuses without an entry are terminal.
var transitions = map[string]map[string]actor{
	models.StatusPending: {
		models.StatusAccepted:  expertOnly,
		models.StatusRejected:  expertOnly,
		models.StatusCancelled: eitherParty,
	},
	models.StatusAccepted: {
		models.StatusCompleted: expertOnly,
		models.StatusCancelled: eitherParty,
	},
}

func IsTerminal(status string) bool {
	_, ok := transitions[status]
	return !ok
}

// CheckTransition validates moving c to status `to` on behalf of actorID.
// An actorID of zero is the system and bypasses the participant rules.
func CheckTransition(c *models.Consultation, actorID uint, to string, now time.Time) error {
	allowed, ok := transitions[c.Status][to]
	if !ok {
		return ErrInvalidTransition
	}
	if actorID != 0 {
		if !c.HasParticipant(actorID) {
			return utils.ErrForbidden
		}
		if allowed == expertOnly && actorID != c.ExpertID {
			return ErrExpertOnly
		}
	}
	if to == models.StatusCompleted && now.Before(c.ScheduledAt) {
		return ErrNotStarted
	}
	return nil
}
