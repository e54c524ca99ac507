package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/feedbacktome/feedbacktome/internal/middleware"
	"github.com/feedbacktome/feedbacktome/internal/services"
)

// Router wires the domain services to the HTTP surface.
type Router struct {
	store       Store
	auth        *services.AuthService
	processes   *services.ProcessService
	submissions *services.SubmissionService
}

func NewRouter(store Store, auth *services.AuthService, processes *services.ProcessService, submissions *services.SubmissionService) *Router {
	return &Router{store: store, auth: auth, processes: processes, submissions: submissions}
}

func (rt *Router) Register(mux *http.ServeMux) {
	requireAuth := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }

	mux.HandleFunc("POST /api/auth/register", rt.handleRegister)
	mux.HandleFunc("GET /api/auth/confirm/{token}", rt.handleConfirmEmail)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)
	mux.HandleFunc("POST /api/auth/forgot-password", rt.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", rt.handleResetPassword)

	mux.Handle("GET /api/me", requireAuth(rt.handleMe))

	mux.Handle("POST /api/processes", requireAuth(rt.handleCreateProcess))
	mux.Handle("GET /api/processes", requireAuth(rt.handleListProcesses))
	mux.Handle("GET /api/processes/{id}", requireAuth(rt.handleProcessStatus))
	mux.Handle("DELETE /api/processes/{id}", requireAuth(rt.handleDeleteProcess))
	mux.Handle("POST /api/processes/{id}/requests", requireAuth(rt.handleAddRequest))
	mux.Handle("DELETE /api/processes/{id}/requests/{token}", requireAuth(rt.handleDeleteRequest))
	mux.Handle("POST /api/processes/{id}/requests/{token}/email", requireAuth(rt.handleSendRequestEmail))
	mux.Handle("POST /api/processes/{id}/report", requireAuth(rt.handleGenerateReport))
	mux.Handle("GET /api/processes/{id}/export", requireAuth(rt.handleExport))

	mux.HandleFunc("GET /api/feedback/{token}", rt.handleFormView)
	mux.HandleFunc("POST /api/feedback/{token}", rt.handleSubmitFeedback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForCode(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorInsufficientCredits:
		return http.StatusPaymentRequired
	case services.ErrorForbidden, services.ErrorFrozen:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict, services.ErrorAlreadyCompleted, services.ErrorAlreadyReported, services.ErrorNotReady:
		return http.StatusConflict
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusForCode(se.Code), map[string]string{"error": string(se.Code), "message": se.Message})
		return
	}
	log.Printf("internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "internal error"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, services.NewInvalidError("invalid json: "+err.Error()))
		return false
	}
	return true
}

func userID(r *http.Request) string {
	uid, _ := middleware.UserIDFromContext(r.Context())
	return uid
}

// --- Auth ---

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in services.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	u, err := rt.auth.Register(in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "confirmed": u.Confirmed})
}

func (rt *Router) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	if err := rt.auth.ConfirmEmail(r.PathValue("token")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	res, err := rt.auth.Login(in.Email, in.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "user_id": res.UserID})
}

func (rt *Router) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := rt.auth.RequestPasswordReset(in.Email); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := rt.auth.ResetPassword(in.Token, in.Password); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := rt.auth.Me(userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Processes ---

func (rt *Router) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var in services.CreateProcessInput
	if !decode(w, r, &in) {
		return
	}
	p, err := rt.processes.CreateProcess(userID(r), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (rt *Router) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	list, err := rt.processes.ListProcesses(userID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (rt *Router) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	st, err := rt.processes.Status(userID(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *Router) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	refunded, err := rt.processes.DeleteProcess(userID(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refunded": refunded})
}

func (rt *Router) handleAddRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decode(w, r, &in) {
		return
	}
	req, err := rt.processes.AddRequest(userID(r), r.PathValue("id"), in.Email, in.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (rt *Router) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	refunded, err := rt.processes.DeleteRequest(userID(r), r.PathValue("id"), r.PathValue("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refunded": refunded})
}

func (rt *Router) handleSendRequestEmail(w http.ResponseWriter, r *http.Request) {
	at, err := rt.processes.SendRequestEmail(userID(r), r.PathValue("id"), r.PathValue("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sent_at": at.Format(time.RFC3339)})
}

func (rt *Router) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	p, err := rt.processes.GenerateReport(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/processes/{id}/export?format=long|wide
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	processID := r.PathValue("id")
	st, err := rt.processes.Status(uid, processID)
	if err != nil {
		writeErr(w, err)
		return
	}
	subs, err := rt.store.ListSubmissionsByProcess(processID)
	if err != nil {
		writeErr(w, err)
		return
	}
	roleByToken := map[string]services.Role{}
	for _, req := range st.Requests {
		roleByToken[req.Token] = req.Role
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "long"
	}
	switch format {
	case "long":
		rows := []services.RatingRow{}
		for i, sub := range subs {
			respondent := fmt.Sprintf("R%02d", i+1)
			for _, q := range st.Process.Qualities {
				if v, ok := sub.Ratings[q]; ok {
					rows = append(rows, services.RatingRow{
						Respondent:  respondent,
						Role:        roleByToken[sub.RequestToken],
						Quality:     q,
						Rating:      v,
						SubmittedAt: sub.CreatedAt.Format(time.RFC3339),
					})
				}
			}
		}
		b, err := services.ExportRatingsLongCSV(rows)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeCSV(w, "ratings_long.csv", b)
	case "wide":
		inputs := map[string]map[string]int{}
		for i, sub := range subs {
			respondent := fmt.Sprintf("R%02d", i+1)
			inputs[respondent] = sub.Ratings
		}
		b, err := services.ExportRatingsWideCSV(st.Process.Qualities, inputs)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeCSV(w, "ratings_wide.csv", b)
	default:
		writeErr(w, services.NewInvalidError("unsupported format"))
	}
}

func writeCSV(w http.ResponseWriter, filename string, b []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(b)
}

// --- Public feedback form ---

func (rt *Router) handleFormView(w http.ResponseWriter, r *http.Request) {
	view, err := rt.processes.FormView(r.PathValue("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ratings      map[string]any `json:"ratings"`
		FeedbackText string         `json:"feedback_text"`
	}
	if !decode(w, r, &in) {
		return
	}
	res, err := rt.submissions.Submit(r.Context(), r.PathValue("token"), formValues(in.Ratings), in.FeedbackText)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "themes_extracted": res.ThemesExtracted})
}

// formValues flattens JSON rating values (numbers or strings) into the raw
// string form the submission service sanitizes.
func formValues(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			if t == float64(int(t)) {
				out[k] = strconv.Itoa(int(t))
			} else {
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
