package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/soaringjerry/Mindwell/internal/middleware"
	"github.com/soaringjerry/Mindwell/internal/services"
)

func userID(r *http.Request) string {
	uid, _ := middleware.UserIDFromContext(r.Context())
	return uid
}

// POST /api/auth/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type variantSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Staged        bool   `json:"staged"`
	QuestionCount int    `json:"question_count"`
}

// GET /api/variants
func (rt *Router) handleListVariants(w http.ResponseWriter, r *http.Request) {
	list := rt.variants.List()
	out := make([]variantSummary, 0, len(list))
	for _, v := range list {
		out = append(out, variantSummary{
			ID:            v.ID,
			Title:         v.Title,
			Description:   v.Description,
			Staged:        v.Staged(),
			QuestionCount: len(v.Questions),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}

// GET /api/variants/{id}. Correct answers and scoring rules are not serialized.
func (rt *Router) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	v, ok := rt.variants.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, services.NewNotFoundError("variant not found"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/sessions
func (rt *Router) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variant string `json:"variant"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := rt.sessions.StartSession(r.Context(), userID(r), strings.TrimSpace(req.Variant))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GET /api/sessions/resume?variant=
func (rt *Router) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := rt.sessions.ResumeSession(r.Context(), userID(r), r.URL.Query().Get("variant"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GET /api/sessions/{id}
func (rt *Router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := rt.sessions.GetSession(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PUT /api/sessions/{id}/progress
// {responses, stage?, debounce?}: 204 when saved, 202 when queued.
func (rt *Router) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Responses rawResponses   `json:"responses"`
		Stage     services.Stage `json:"stage"`
		Debounce  bool           `json:"debounce"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	responses, problems := req.Responses.decode()
	if len(problems) > 0 {
		writeError(w, r, &services.ServiceError{Code: services.ErrorInvalid, Message: "unsupported answer values", Details: problems})
		return
	}
	update := services.ProgressUpdate{Responses: responses, Stage: req.Stage}
	if req.Debounce {
		queued, err := rt.sessions.QueueProgress(r.Context(), userID(r), r.PathValue("id"), update)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if queued {
			writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if _, err := rt.sessions.SaveProgress(r.Context(), userID(r), r.PathValue("id"), update); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/learning {item_id}
func (rt *Router) handleCompleteLearning(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := rt.sessions.CompleteLearningItem(r.Context(), userID(r), r.PathValue("id"), strings.TrimSpace(req.ItemID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// POST /api/sessions/{id}/submit {responses?, reflection?}
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Responses  rawResponses `json:"responses"`
		Reflection string       `json:"reflection"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	responses, problems := req.Responses.decode()
	if len(problems) > 0 {
		writeError(w, r, services.NewValidationError(problems))
		return
	}
	view, err := rt.sessions.Submit(r.Context(), userID(r), r.PathValue("id"), services.SubmitRequest{
		Responses:  responses,
		Reflection: req.Reflection,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /api/reports?variant=
func (rt *Router) handleListReports(w http.ResponseWriter, r *http.Request) {
	h, err := rt.reports.ListReports(r.Context(), userID(r), r.URL.Query().Get("variant"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// GET /api/reports/export?variant=&format=wide|long
func (rt *Router) handleExportReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	b, err := rt.reports.ExportCSV(r.Context(), userID(r), q.Get("variant"), q.Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := "reports"
	if v := q.Get("variant"); v != "" {
		name += "-" + v
	}
	name += "-" + time.Now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(b)
}

// GET /api/reports/{id}
func (rt *Router) handleGetReport(w http.ResponseWriter, r *http.Request) {
	view, err := rt.reports.GetReport(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/moderation/summary
func (rt *Router) handleModerationSummary(w http.ResponseWriter, r *http.Request) {
	var req services.ModerationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.moderation.Summarize(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
