package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"semilla/api/internal/auth"
	"semilla/api/internal/authpw"
	"semilla/api/internal/export"
	"semilla/api/internal/rbac"
	"semilla/api/internal/search"
	"semilla/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Agent ingest — authenticated by the shared agent secret, not a session.
	if r.Method == http.MethodPost && r.URL.Path == "/api/ideas" {
		if !s.agentAuthorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid agent credentials", nil)
			return
		}
		var body IngestIdeaInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		idea, err := s.service.IngestIdea(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, idea)
		return
	}

	// Everything below requires a session.
	session, err := s.requireSession(w, r)
	if err != nil {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "ideas":
		s.handleIdeas(w, r, session, parts[2:])
	case "items":
		s.handleItems(w, r, session, parts[2:])
	case "documents":
		s.handleDocuments(w, r, session, parts[2:])
	case "board":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		includeArchived := r.URL.Query().Get("archived") == "true"
		items, err := s.service.ListBoard(r.Context(), r.URL.Query().Get("workspaceId"), includeArchived)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case "templates":
		s.handleTemplates(w, r, session, parts[2:])
	case "workspaces":
		s.handleWorkspaces(w, r, session, parts[2:])
	case "activity":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.ListActivity(r.Context(), r.URL.Query().Get("workspaceId"), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
	case "search":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		response := s.service.Search(r.Context(), search.Query{
			Text:              query.Get("q"),
			FilterType:        search.ResultType(query.Get("type")),
			FilterWorkspaceID: query.Get("workspaceId"),
			Limit:             limit,
			Offset:            offset,
		})
		writeJSON(w, http.StatusOK, response)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleIdeas(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		ideas, err := s.service.ListIdeas(r.Context(), r.URL.Query().Get("workspaceId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ideas": ideas})

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "promote":
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body PromoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.UserID == "" {
			body.UserID = session.UserID
		}
		doc, err := s.service.PromoteIdea(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, doc)

	case r.Method == http.MethodGet && len(rest) == 1:
		idea, err := s.service.GetIdea(r.Context(), rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, idea)

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "discard":
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		idea, err := s.service.DiscardIdea(r.Context(), session, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, idea)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "move" {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body MoveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.MoveItem(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		includeArchived := r.URL.Query().Get("archived") == "true"
		documents, err := s.service.ListDocuments(r.Context(), r.URL.Query().Get("workspaceId"), includeArchived)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": documents})

	case r.Method == http.MethodPost && len(rest) == 0:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body CreateDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, doc)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "update":
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Updates []BatchUpdateEntry `json:"updates"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result := s.service.BatchUpdateDocuments(r.Context(), session, body.Updates)
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodGet && len(rest) == 1:
		doc, err := s.service.GetDocument(r.Context(), rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case len(rest) == 2:
		s.handleDocumentAction(w, r, session, rest[0], rest[1])

	case r.Method == http.MethodGet && len(rest) == 3 && rest[1] == "versions":
		snap, err := s.service.DocumentVersionAt(r.Context(), rest[0], rest[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocumentAction(w http.ResponseWriter, r *http.Request, session Session, documentID, action string) {
	switch {
	case r.Method == http.MethodGet && action == "history":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.DocumentHistory(r.Context(), documentID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": entries})

	case r.Method == http.MethodGet && action == "tasks":
		tasks, err := s.service.DocumentTasks(r.Context(), documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})

	case r.Method == http.MethodGet && action == "versions":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := s.service.DocumentVersions(r.Context(), documentID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": records})

	case r.Method == http.MethodPost && action == "archive":
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Archived *bool `json:"archived"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		archived := true
		if body.Archived != nil {
			archived = *body.Archived
		}
		doc, err := s.service.ArchiveDocument(r.Context(), session, documentID, archived)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case r.Method == http.MethodPost && action == "approve":
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		doc, err := s.service.ApproveDocument(r.Context(), session, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case r.Method == http.MethodPost && action == "reject":
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.RejectDocument(r.Context(), session, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodPost && action == "export":
		var body struct {
			Format         string `json:"format"`
			IncludeHistory bool   `json:"includeHistory"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format := export.Format(body.Format)
		if format == "" {
			format = export.FormatPDF
		}
		result, err := s.service.ExportProject(r.Context(), export.Request{
			ProjectID:      documentID,
			Format:         format,
			IncludeHistory: body.IncludeHistory,
		})
		if err != nil {
			if errors.Is(err, export.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer not available", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		templates, err := s.service.ListTemplates(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})

	case r.Method == http.MethodPost && len(rest) == 0:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body store.ProcessTemplate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tpl, err := s.service.CreateTemplate(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, tpl)

	case r.Method == http.MethodPut && len(rest) == 1:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body store.ProcessTemplate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.ID = rest[0]
		tpl, err := s.service.UpdateTemplate(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, tpl)

	case r.Method == http.MethodDelete && len(rest) == 1:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.DeleteTemplate(r.Context(), rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "apply":
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			ProjectID string `json:"projectId"`
			StartDate string `json:"startDate"` // YYYY-MM-DD
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var startDate time.Time
		if body.StartDate != "" {
			parsed, err := time.Parse("2006-01-02", body.StartDate)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "startDate must be YYYY-MM-DD", nil)
				return
			}
			startDate = parsed
		}
		result, err := s.service.ExpandTemplate(r.Context(), session, rest[0], body.ProjectID, startDate)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		workspaces, err := s.service.ListWorkspaces(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})

	case r.Method == http.MethodPost && len(rest) == 0:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		workspace, err := s.service.CreateWorkspace(r.Context(), session, body.Name, body.Slug)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, workspace)

	case r.Method == http.MethodPut && len(rest) == 1:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		workspace, err := s.service.UpdateWorkspace(r.Context(), rest[0], body.Name, body.Slug)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, workspace)

	case r.Method == http.MethodDelete && len(rest) == 1:
		if !s.service.Can(session.Role, rbac.ActionAdmin) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.DeleteWorkspace(r.Context(), rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, error) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, auth.ErrInvalidToken
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, err
	}
	return session, nil
}

// agentAuthorized checks the shared agent secret, sent either as the
// X-Semilla-Agent-Key header or as a bearer token.
func (s *HTTPServer) agentAuthorized(r *http.Request) bool {
	secret := s.service.cfg.AgentSecret
	if secret == "" {
		return false
	}
	if key := strings.TrimSpace(r.Header.Get("X-Semilla-Agent-Key")); key != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1
	}
	if token := bearerToken(r); token != "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	}
	return false
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"role":         session.Role,
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Semilla-Agent-Key")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	// Token returned directly: there is no mail transport, the operator
	// relays it out of band.
	token, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resetToken": token})
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
