package assessment

// DefaultTopicCutoff is the normalized topic score that triggers remediation.
const DefaultTopicCutoff = 50

// KeepGoing is returned when no rule fires.
const KeepGoing = "Keep up the good habits!"

// Recommend maps a scored result to suggestions. The escalation message comes
// first when the category band escalates, then topic remediation in topic
// declaration order. The list is never empty.
func Recommend(res Result, v *Variant) []string {
	var out []string
	band := Categorize(res.Total, v.Bands)
	if band.Escalate && v.Escalation != "" {
		out = append(out, v.Escalation)
	}
	for _, t := range v.Topics {
		if t.Remediation == "" {
			continue
		}
		if needsRemediation(t, res.Topics[t.Name]) {
			out = append(out, t.Remediation)
		}
	}
	if len(out) > 0 {
		return out
	}
	if band.Advice != "" {
		return []string{band.Advice}
	}
	return []string{KeepGoing}
}

func needsRemediation(t Topic, score int) bool {
	cutoff := t.Cutoff
	if cutoff == 0 {
		cutoff = DefaultTopicCutoff
	}
	if t.RemediateWhen == "above" {
		return score > cutoff
	}
	return score < cutoff
}
