package treatment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atmx/credence-engine/internal/model"
)

// ErrQuizIncorrect is returned when at least one control question is wrong.
var ErrQuizIncorrect = fmt.Errorf("%w: quiz: incorrect answers", model.ErrInvalidInput)

// quizKey is the answer key of the control quiz shown before round 1.
var quizKey = map[string]string{
	"q1": "B", // re-matched with someone else every round
	"q2": "A", // A offers prices, B decides, A chooses the action, A pays
	"q3": "C", // type drawn at random every round
	"q4": "A", // false statement: both players always earn the same
}

// CheckQuiz compares answers with the key. The error lists the ids of every
// wrong or missing answer so the participant can correct them together.
func CheckQuiz(answers map[string]string) error {
	var wrong []string
	for q, want := range quizKey {
		if strings.ToUpper(strings.TrimSpace(answers[q])) != want {
			wrong = append(wrong, q)
		}
	}
	if len(wrong) == 0 {
		return nil
	}
	sort.Strings(wrong)
	return fmt.Errorf("%w: %s", ErrQuizIncorrect, strings.Join(wrong, ","))
}
