package assessment

import "fmt"

// Problem describes why one answer blocks submission.
type Problem struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
}

func (p Problem) String() string { return p.QuestionID + ": " + p.Reason }

// Validate checks a response set against the question bank. Missing required
// answers, shape mismatches, out-of-range scale values and unknown options are
// reported in question order. Ids that are not in the bank are ignored.
func Validate(responses Responses, v *Variant) []Problem {
	var problems []Problem
	for _, q := range v.Questions {
		ans, ok := responses[q.ID]
		if !ok || ans.Empty() {
			if q.Required {
				problems = append(problems, Problem{QuestionID: q.ID, Reason: "answer required"})
			}
			continue
		}
		if !ans.Matches(q.Type) {
			problems = append(problems, Problem{QuestionID: q.ID, Reason: fmt.Sprintf("expected %s answer", q.Type)})
			continue
		}
		if reason := checkValue(q, ans); reason != "" {
			problems = append(problems, Problem{QuestionID: q.ID, Reason: reason})
		}
	}
	return problems
}

func checkValue(q Question, ans Answer) string {
	switch q.Type {
	case TypeScale:
		if n := *ans.Number; n < q.Min || n > q.Max {
			return fmt.Sprintf("value %d outside %d..%d", n, q.Min, q.Max)
		}
	case TypeSingleChoice:
		if len(q.Options) > 0 && !contains(q.Options, *ans.Text) {
			return fmt.Sprintf("unknown option %q", *ans.Text)
		}
	case TypeMultiSelect:
		for _, c := range ans.Choices {
			if len(q.Options) > 0 && !contains(q.Options, c) {
				return fmt.Sprintf("unknown option %q", c)
			}
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
