package coupleplay

import (
	"slices"
	"strings"
)

// Assignment binds one unassigned question to its writer.
type Assignment struct {
	QuestionID string
	PlayerID   string
}

// SortQuestions orders questions by creation time ascending, breaking ties by
// id so every caller sees the same order.
func SortQuestions(qs []Question) []Question {
	out := slices.Clone(qs)
	slices.SortStableFunc(out, func(a, b Question) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// TurnOrder returns the players in answering order: host first, then guest.
func TurnOrder(players []Player) []Player {
	out := slices.Clone(players)
	slices.SortStableFunc(out, func(a, b Player) int {
		return roleRank(a.Role) - roleRank(b.Role)
	})
	return out
}

func roleRank(r Role) int {
	if r == RoleHost {
		return 0
	}
	return 1
}

// PlanAssignments computes the round-robin writer for every question that has
// no answerer yet. The index used for rotation is the position among the
// unassigned questions, in creation order. Already assigned questions are
// left out of the plan. With no players the plan is empty.
func PlanAssignments(questions []Question, players []Player) []Assignment {
	order := TurnOrder(players)
	if len(order) == 0 {
		return nil
	}

	var plan []Assignment
	i := 0
	for _, q := range SortQuestions(questions) {
		if q.AnsweringPlayerID != nil {
			continue
		}
		plan = append(plan, Assignment{
			QuestionID: q.ID,
			PlayerID:   order[i%len(order)].ID,
		})
		i++
	}
	return plan
}

// ApplyAssignments returns a copy of questions with the plan applied locally.
// Questions that already have an answerer keep it.
func ApplyAssignments(questions []Question, plan []Assignment) []Question {
	byID := make(map[string]string, len(plan))
	for _, a := range plan {
		byID[a.QuestionID] = a.PlayerID
	}
	out := slices.Clone(questions)
	for i, q := range out {
		if q.AnsweringPlayerID != nil {
			continue
		}
		if pid, ok := byID[q.ID]; ok {
			out[i].AnsweringPlayerID = StringPtr(pid)
		}
	}
	return out
}

// NextOpen returns the first question in creation order that is not done.
func NextOpen(questions []Question) (Question, bool) {
	for _, q := range SortQuestions(questions) {
		if !q.IsDone() {
			return q, true
		}
	}
	return Question{}, false
}

// AllDone reports whether there is at least one question and every question
// is done.
func AllDone(questions []Question) bool {
	if len(questions) == 0 {
		return false
	}
	for _, q := range questions {
		if !q.IsDone() {
			return false
		}
	}
	return true
}

// CurrentQuestion picks the question the room is working on: the one named
// by currentID if it exists and is open, else the first open question, else
// the first question overall.
func CurrentQuestion(questions []Question, currentID *string) (Question, bool) {
	ordered := SortQuestions(questions)
	if currentID != nil {
		for _, q := range ordered {
			if q.ID == *currentID && !q.IsDone() {
				return q, true
			}
		}
	}
	if q, ok := NextOpen(ordered); ok {
		return q, true
	}
	if len(ordered) > 0 {
		return ordered[0], true
	}
	return Question{}, false
}

// BothStageOneDone reports whether the host and the guest have both finished
// collecting questions. A room without a guest is never done.
func BothStageOneDone(players []Player) bool {
	host, okHost := findRole(players, RoleHost)
	guest, okGuest := findRole(players, RoleGuest)
	return okHost && okGuest && host.StageOneDone && guest.StageOneDone
}
