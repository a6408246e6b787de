package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
)

const defaultModerationModel = "gpt-4o-mini"

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AIConfig points at an OpenAI-compatible chat completion endpoint.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

func (c AIConfig) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

type ModerationRequest struct {
	Content         string `json:"content"`
	Policy          string `json:"policy,omitempty"`
	IncludeUserInfo bool   `json:"include_user_info,omitempty"`
}

type ModerationResult struct {
	Summary              string   `json:"summary"`
	PotentialIssues      []string `json:"potential_issues"`
	InterventionRequired bool     `json:"intervention_required"`
}

// ModerationService asks an external text model to summarize and screen
// user-written content such as reflections and study plans.
type ModerationService struct {
	cfg     AIConfig
	client  HTTPClient
	reports ReportStore
}

func NewModerationService(cfg AIConfig, client HTTPClient) *ModerationService {
	if client == nil {
		client = http.DefaultClient
	}
	return &ModerationService{cfg: cfg, client: client}
}

// WithReports lets requests that include user info attach the caller's
// recent assessment outcomes.
func (s *ModerationService) WithReports(store ReportStore) *ModerationService {
	s.reports = store
	return s
}

func (s *ModerationService) Summarize(ctx context.Context, userID string, req ModerationRequest) (*ModerationResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, NewInvalidError("content required")
	}
	if !s.cfg.Enabled() {
		return nil, NewInvalidError("external AI disabled or missing key")
	}
	model := s.cfg.Model
	if strings.TrimSpace(model) == "" {
		model = defaultModerationModel
	}
	src, err := s.buildSource(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"model":       model,
		"temperature": 0.0,
		"messages": []map[string]string{
			{"role": "system", "content": moderationPrompt(req.Policy)},
			{"role": "user", "content": string(body)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	reqHTTP, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizeOpenAIEndpoint(s.cfg.BaseURL), bytes.NewReader(pb))
	if err != nil {
		return nil, err
	}
	reqHTTP.Header.Set("Content-Type", "application/json")
	reqHTTP.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	resp, err := s.client.Do(reqHTTP)
	if err != nil {
		return nil, NewBadGatewayError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, NewBadGatewayError(string(b))
	}
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return nil, NewBadGatewayError(err.Error())
	}
	if len(cc.Choices) == 0 {
		return nil, NewBadGatewayError("no choices")
	}
	var out ModerationResult
	if err := json.Unmarshal([]byte(cc.Choices[0].Message.Content), &out); err != nil {
		return nil, NewBadGatewayError("invalid JSON from model")
	}
	if out.PotentialIssues == nil {
		out.PotentialIssues = []string{}
	}
	return &out, nil
}

func (s *ModerationService) buildSource(ctx context.Context, userID string, req ModerationRequest) (map[string]any, error) {
	src := map[string]any{"content": req.Content}
	if !req.IncludeUserInfo || s.reports == nil {
		return src, nil
	}
	reports, err := s.reports.ListReports(ctx, userID, "")
	if err != nil {
		return nil, NewPersistenceError("list reports", err)
	}
	type outcome struct {
		Variant  string `json:"variant"`
		Category string `json:"category"`
		Score    int    `json:"score"`
	}
	latest := map[string]*Report{}
	for _, r := range reports {
		if r.UserID != userID {
			continue
		}
		if cur, ok := latest[r.Variant]; !ok || before(cur, r) {
			latest[r.Variant] = r
		}
	}
	outcomes := make([]outcome, 0, len(latest))
	for _, r := range latest {
		outcomes = append(outcomes, outcome{Variant: r.Variant, Category: r.Category, Score: r.Score})
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Variant < outcomes[j].Variant })
	src["recent_assessments"] = outcomes
	return src, nil
}

func moderationPrompt(policy string) string {
	p := "You review short texts written by students in a wellbeing app. Return ONLY a JSON object with fields: summary (one or two sentences), potential_issues (array of short strings), intervention_required (boolean, true when the text suggests risk of harm or an urgent need for support)."
	if strings.TrimSpace(policy) != "" {
		p += " Apply this moderation policy: " + strings.TrimSpace(policy)
	}
	return p
}

func normalizeOpenAIEndpoint(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	switch {
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"):
		return endpoint + "/chat/completions"
	default:
		return endpoint + "/v1/chat/completions"
	}
}
