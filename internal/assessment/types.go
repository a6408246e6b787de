package assessment

// ResponseType is the answer shape a question accepts.
type ResponseType string

const (
	TypeScale        ResponseType = "scale"
	TypeSingleChoice ResponseType = "single_choice"
	TypeMultiSelect  ResponseType = "multi_select"
	TypeText         ResponseType = "text"
)

// Rule selects how an answered question contributes points.
type Rule string

const (
	// RuleSum adds the (possibly reverse-scored) scale value.
	RuleSum Rule = "sum"
	// RuleFlag adds one point when the scale value reaches FlagAt.
	RuleFlag Rule = "flag"
	// RuleCorrect adds Weight when the selection matches the correct answer(s).
	RuleCorrect Rule = "correct"
	// RulePresence adds Weight when the text answer is non-empty.
	RulePresence Rule = "presence"
	// RuleNone marks questions that are collected but not scored.
	RuleNone Rule = "none"
)

// Question is a static item of a variant's question bank.
type Question struct {
	ID       string       `yaml:"id" json:"id"`
	Text     string       `yaml:"text" json:"text"`
	Type     ResponseType `yaml:"type" json:"type"`
	Topic    string       `yaml:"topic,omitempty" json:"topic,omitempty"`
	Options  []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Correct  []string     `yaml:"correct,omitempty" json:"-"`
	Min      int          `yaml:"min,omitempty" json:"min,omitempty"`
	Max      int          `yaml:"max,omitempty" json:"max,omitempty"`
	Reverse  bool         `yaml:"reverse,omitempty" json:"reverse,omitempty"`
	Required bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Rule     Rule         `yaml:"rule,omitempty" json:"-"`
	Weight   int          `yaml:"weight,omitempty" json:"-"`
	FlagAt   int          `yaml:"flag_at,omitempty" json:"-"`
}

// MaxPoints is the most a single question can contribute under its rule.
func (q Question) MaxPoints() int {
	switch q.Rule {
	case RuleSum:
		return q.Max
	case RuleFlag:
		return 1
	case RuleCorrect, RulePresence:
		return q.Weight
	default:
		return 0
	}
}

// Topic is a scoring dimension with its remediation rule.
type Topic struct {
	Name        string `yaml:"name" json:"name"`
	Remediation string `yaml:"remediation" json:"-"`
	Cutoff      int    `yaml:"cutoff,omitempty" json:"-"`
	// RemediateWhen is "below" (default) or "above" the cutoff.
	RemediateWhen string `yaml:"remediate_when,omitempty" json:"-"`
}

// Band maps totals at or above Min to Label.
type Band struct {
	Min      int    `yaml:"min" json:"min"`
	Label    string `yaml:"label" json:"label"`
	Escalate bool   `yaml:"escalate,omitempty" json:"escalate,omitempty"`
	Advice   string `yaml:"advice,omitempty" json:"-"`
}

// LearningItem gates the assessment stage of staged variants.
type LearningItem struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Summary string `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// Variant is one assessment definition: questions, scoring rules and thresholds.
type Variant struct {
	ID          string         `yaml:"id" json:"id"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Escalation  string         `yaml:"escalation,omitempty" json:"-"`
	Learning    []LearningItem `yaml:"learning,omitempty" json:"learning,omitempty"`
	Topics      []Topic        `yaml:"topics,omitempty" json:"topics,omitempty"`
	Questions   []Question     `yaml:"questions" json:"questions"`
	Bands       []Band         `yaml:"bands" json:"bands"`
}

// Staged reports whether the variant has a learning stage before the assessment.
func (v *Variant) Staged() bool { return len(v.Learning) > 0 }

// Question looks up a question by id.
func (v *Variant) Question(id string) (Question, bool) {
	for _, q := range v.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasLearningItem reports whether id names one of the variant's learning items.
func (v *Variant) HasLearningItem(id string) bool {
	for _, it := range v.Learning {
		if it.ID == id {
			return true
		}
	}
	return false
}

// TopicMax returns the maximum achievable points per declared topic.
func (v *Variant) TopicMax() map[string]int {
	out := make(map[string]int, len(v.Topics))
	for _, t := range v.Topics {
		out[t.Name] = 0
	}
	for _, q := range v.Questions {
		if q.Topic == "" {
			continue
		}
		out[q.Topic] += q.MaxPoints()
	}
	return out
}
