package assessment

import (
	"sort"
	"strconv"
	"time"
)

// CurrentAttemptLabel marks the just-computed point of a trend series.
const CurrentAttemptLabel = "Current attempt"

// HistoryPoint is one prior report's score with the fields used to order it.
type HistoryPoint struct {
	Score     int       `json:"score"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// TrendPoint is one labelled point of the score trend.
type TrendPoint struct {
	Label   string `json:"label"`
	Score   int    `json:"score"`
	Current bool   `json:"current,omitempty"`
}

// ReportView is the displayable report for one attempt.
type ReportView struct {
	Result
	Recommendations []string     `json:"recommendations"`
	Reflection      string       `json:"reflection,omitempty"`
	Trend           []TrendPoint `json:"trend"`
}

// SortHistory orders points by creation time, breaking ties by sequence.
// Stores give no ordering guarantee on reads, so callers sort explicitly.
func SortHistory(points []HistoryPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if !points[i].CreatedAt.Equal(points[j].CreatedAt) {
			return points[i].CreatedAt.Before(points[j].CreatedAt)
		}
		return points[i].Sequence < points[j].Sequence
	})
}

// BuildTrend labels prior scores as sequential attempts and appends the
// current score.
func BuildTrend(history []HistoryPoint, current int) []TrendPoint {
	sorted := append([]HistoryPoint(nil), history...)
	SortHistory(sorted)
	out := make([]TrendPoint, 0, len(sorted)+1)
	for i, p := range sorted {
		out = append(out, TrendPoint{Label: "Attempt " + strconv.Itoa(i+1), Score: p.Score})
	}
	return append(out, TrendPoint{Label: CurrentAttemptLabel, Score: current, Current: true})
}

// BuildReport merges a scored result with history and recommendations. It
// does not re-score.
func BuildReport(res Result, v *Variant, reflection string, history []HistoryPoint) ReportView {
	return ReportView{
		Result:          res,
		Recommendations: Recommend(res, v),
		Reflection:      reflection,
		Trend:           BuildTrend(history, res.Total),
	}
}
