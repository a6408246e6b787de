package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"
)

func itoa(i int) string { return strconv.Itoa(i) }

// ExportReportsWideCSV renders one row per report with one column per topic.
func ExportReportsWideCSV(reports []*Report) ([]byte, error) {
	topicSet := map[string]struct{}{}
	for _, r := range reports {
		for name := range r.Topics {
			topicSet[name] = struct{}{}
		}
	}
	topics := make([]string, 0, len(topicSet))
	for name := range topicSet {
		topics = append(topics, name)
	}
	sort.Strings(topics)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"report_id", "variant", "sequence", "created_at", "score", "category", "flags"}
	for _, name := range topics {
		header = append(header, "topic:"+name)
	}
	header = append(header, "recommendations", "reflection")
	_ = w.Write(header)
	for _, r := range reports {
		row := []string{
			r.ID,
			r.Variant,
			itoa(r.Sequence),
			r.CreatedAt.UTC().Format(time.RFC3339),
			itoa(r.Score),
			r.Category,
			itoa(r.Flags),
		}
		for _, name := range topics {
			if v, ok := r.Topics[name]; ok {
				row = append(row, itoa(v))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, strings.Join(r.Recommendations, " | "), r.Reflection)
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportTopicsLongCSV renders one row per report and topic.
func ExportTopicsLongCSV(reports []*Report) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"report_id", "variant", "sequence", "topic", "score", "created_at"})
	for _, r := range reports {
		names := make([]string, 0, len(r.Topics))
		for name := range r.Topics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rec := []string{
				r.ID,
				r.Variant,
				itoa(r.Sequence),
				name,
				itoa(r.Topics[name]),
				r.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
