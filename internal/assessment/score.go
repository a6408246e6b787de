package assessment

import (
	"math"
	"strings"
)

// Result is the scoring output for one response set.
type Result struct {
	Total    int            `json:"total"`
	Topics   map[string]int `json:"topics"`
	Flags    int            `json:"flags,omitempty"`
	Category string         `json:"category"`
}

// ReverseScore maps a raw scale value to its reverse-scored value on [min, max].
// Out-of-range values are clamped first.
func ReverseScore(raw, min, max int) int {
	if max <= min {
		return raw
	}
	if raw < min {
		raw = min
	}
	if raw > max {
		raw = max
	}
	return min + max - raw
}

// Score computes the total, the per-topic breakdown (0..100) and the category.
// It is a pure function of its inputs. Answers whose shape does not fit the
// question contribute nothing.
func Score(responses Responses, v *Variant) Result {
	raw := make(map[string]int, len(v.Topics))
	res := Result{Topics: make(map[string]int, len(v.Topics))}

	for _, q := range v.Questions {
		ans, ok := responses[q.ID]
		if !ok || !ans.Matches(q.Type) {
			continue
		}
		pts, flagged := points(q, ans)
		if flagged {
			res.Flags++
		}
		res.Total += pts
		if q.Topic != "" {
			raw[q.Topic] += pts
		}
	}

	for name, m := range v.TopicMax() {
		res.Topics[name] = normalize(raw[name], m)
	}
	res.Category = Categorize(res.Total, v.Bands).Label
	return res
}

func points(q Question, ans Answer) (int, bool) {
	switch q.Rule {
	case RuleSum:
		val := *ans.Number
		if val < q.Min || val > q.Max {
			return 0, false
		}
		if q.Reverse {
			val = ReverseScore(val, q.Min, q.Max)
		}
		return val, false
	case RuleFlag:
		if *ans.Number >= q.FlagAt {
			return 1, true
		}
	case RuleCorrect:
		if correct(q, ans) {
			return q.Weight, false
		}
	case RulePresence:
		if !ans.Empty() {
			return q.Weight, false
		}
	}
	return 0, false
}

func correct(q Question, ans Answer) bool {
	if len(q.Correct) == 0 {
		return false
	}
	if q.Type == TypeSingleChoice {
		return *ans.Text == q.Correct[0]
	}
	picked := make(map[string]struct{}, len(ans.Choices))
	for _, c := range ans.Choices {
		picked[c] = struct{}{}
	}
	for _, c := range q.Correct {
		if _, ok := picked[c]; !ok {
			return false
		}
	}
	return true
}

func normalize(raw, limit int) int {
	if limit <= 0 {
		return 0
	}
	pct := int(math.Round(float64(raw) / float64(limit) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Categorize returns the first band whose inclusive lower bound the total
// reaches. Bands are ordered highest first; the last band catches everything
// below.
func Categorize(total int, bands []Band) Band {
	if len(bands) == 0 {
		return Band{}
	}
	for _, b := range bands[:len(bands)-1] {
		if total >= b.Min {
			return b
		}
	}
	return bands[len(bands)-1]
}

// CategoryRank orders labels from the lowest band (0) upward; unknown labels are -1.
func CategoryRank(label string, bands []Band) int {
	for i, b := range bands {
		if strings.EqualFold(b.Label, label) {
			return len(bands) - 1 - i
		}
	}
	return -1
}
