package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
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

	"github.com/marwahaha/snap-server/internal/auth"
)

// maxPayloadBytes caps a single project snapshot upload.
const maxPayloadBytes = 16 << 20

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
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
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
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Routes that do not require an authenticated caller
	switch r.URL.Path {
	case "/createUser":
		s.handleCreateUser(w, r)
		return
	case "/resetPassword":
		s.handleResetPassword(w, r)
		return
	case "/login":
		s.handleLogin(w, r)
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/saveProject" {
		s.handleSaveProject(w, r, sess)
		return
	}

	if r.Method == http.MethodGet {
		switch r.URL.Path {
		case "/loadProject":
			s.respond(w, r, func() (any, error) {
				projID, err := requireParam(r, "projId")
				if err != nil {
					return nil, err
				}
				return s.service.LoadProject(r.Context(), sess, projID)
			})
			return
		case "/getRevision":
			s.respond(w, r, func() (any, error) {
				revID, err := requireParam(r, "revId")
				if err != nil {
					return nil, err
				}
				return s.service.GetRevision(r.Context(), sess, revID)
			})
			return
		case "/getRevisionChain":
			s.respond(w, r, func() (any, error) {
				projID, err := requireParam(r, "projId")
				if err != nil {
					return nil, err
				}
				chain, err := s.service.GetRevisionChain(r.Context(), sess, projID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"revisions": chain}, nil
			})
			return
		case "/listProjects":
			s.respond(w, r, func() (any, error) {
				projects, err := s.service.ListProjects(r.Context(), sess)
				if err != nil {
					return nil, err
				}
				return map[string]any{"projects": projects}, nil
			})
			return
		case "/getProjectByName":
			s.respond(w, r, func() (any, error) {
				userName, err := requireParam(r, "userName")
				if err != nil {
					return nil, err
				}
				projectName, err := requireParam(r, "projectName")
				if err != nil {
					return nil, err
				}
				projects, err := s.service.GetProjectByName(r.Context(), userName, projectName)
				if err != nil {
					return nil, err
				}
				return map[string]any{"projects": projects}, nil
			})
			return
		case "/searchProjects":
			s.handleSearchProjects(w, r)
			return
		case "/listMembers":
			s.respond(w, r, func() (any, error) {
				projID, err := requireParam(r, "projId")
				if err != nil {
					return nil, err
				}
				members, err := s.service.ListProjectMembers(r.Context(), sess, projID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"members": members}, nil
			})
			return
		case "/listStudents":
			s.respond(w, r, func() (any, error) {
				courseID, err := requireParam(r, "courseId")
				if err != nil {
					return nil, err
				}
				students, err := s.service.ListStudents(r.Context(), sess, courseID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"students": students}, nil
			})
			return
		case "/listTeachers":
			s.respond(w, r, func() (any, error) {
				courseID, err := requireParam(r, "courseId")
				if err != nil {
					return nil, err
				}
				teachers, err := s.service.ListTeachers(r.Context(), courseID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"teachers": teachers}, nil
			})
			return
		case "/listCoursesEnrolled":
			s.respond(w, r, func() (any, error) {
				courses, err := s.service.ListCoursesEnrolled(r.Context(), sess)
				if err != nil {
					return nil, err
				}
				return map[string]any{"courses": courses}, nil
			})
			return
		case "/listCoursesTeaching":
			s.respond(w, r, func() (any, error) {
				userName, err := requireParam(r, "userName")
				if err != nil {
					return nil, err
				}
				courses, err := s.service.ListCoursesTeaching(r.Context(), userName)
				if err != nil {
					return nil, err
				}
				return map[string]any{"courses": courses}, nil
			})
			return
		case "/listAssignments":
			s.respond(w, r, func() (any, error) {
				courseID, err := requireParam(r, "courseId")
				if err != nil {
					return nil, err
				}
				assignments, err := s.service.ListAssignments(r.Context(), courseID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"assignments": assignments}, nil
			})
			return
		case "/listSubmissions":
			s.respond(w, r, func() (any, error) {
				assignID, err := requireParam(r, "assignId")
				if err != nil {
					return nil, err
				}
				submissions, err := s.service.ListSubmissions(r.Context(), sess, assignID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"submissions": submissions}, nil
			})
			return
		}
	}

	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/logout":
			_ = s.service.Logout(r.Context(), sess.Token)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "/changePassword":
			s.respondBody(w, r, func(body params) (any, error) {
				newPassword, err := body.require("newPassword")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.ChangePassword(r.Context(), sess, newPassword))
			})
			return
		case "/createProject":
			s.respond(w, r, func() (any, error) {
				projID, err := s.service.CreateProject(r.Context(), sess)
				if err != nil {
					return nil, err
				}
				return map[string]any{"projId": projID}, nil
			})
			return
		case "/uncreateProject":
			s.respondBody(w, r, func(body params) (any, error) {
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.UncreateProject(r.Context(), sess, projID))
			})
			return
		case "/shareProject":
			s.respondBody(w, r, func(body params) (any, error) {
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				userName, err := body.require("userName")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.ShareProject(r.Context(), sess, projID, userName))
			})
			return
		case "/unshareProject":
			s.respondBody(w, r, func(body params) (any, error) {
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				userName, err := body.require("userName")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.UnshareProject(r.Context(), sess, projID, userName))
			})
			return
		case "/makePublic":
			s.respondBody(w, r, func(body params) (any, error) {
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.MakePublic(r.Context(), sess, projID))
			})
			return
		case "/unmakePublic":
			s.respondBody(w, r, func(body params) (any, error) {
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.UnmakePublic(r.Context(), sess, projID))
			})
			return
		case "/shareProjectWithTeachers":
			s.handleCourseShare(w, r, sess, s.service.ShareProjectWithTeachers)
			return
		case "/unshareProjectWithTeachers":
			s.handleCourseShare(w, r, sess, s.service.UnshareProjectWithTeachers)
			return
		case "/shareProjectWithStudents":
			s.handleCourseShare(w, r, sess, s.service.ShareProjectWithStudents)
			return
		case "/unshareProjectWithStudents":
			s.handleCourseShare(w, r, sess, s.service.UnshareProjectWithStudents)
			return
		case "/createCourse":
			s.respondBody(w, r, func(body params) (any, error) {
				courseID, err := s.service.CreateCourse(r.Context(), sess, body["name"])
				if err != nil {
					return nil, err
				}
				return map[string]any{"courseId": courseID}, nil
			})
			return
		case "/enroll":
			s.respondBody(w, r, func(body params) (any, error) {
				courseID, err := body.require("courseId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.Enroll(r.Context(), sess, courseID))
			})
			return
		case "/unenroll":
			s.respondBody(w, r, func(body params) (any, error) {
				courseID, err := body.require("courseId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.Unenroll(r.Context(), sess, courseID))
			})
			return
		case "/addStudent":
			s.handleRosterChange(w, r, sess, s.service.AddStudent)
			return
		case "/removeStudent":
			s.handleRosterChange(w, r, sess, s.service.RemoveStudent)
			return
		case "/addTeacher":
			s.handleRosterChange(w, r, sess, s.service.AddTeacher)
			return
		case "/removeTeacher":
			s.handleRosterChange(w, r, sess, s.service.RemoveTeacher)
			return
		case "/createAssignment":
			s.respondBody(w, r, func(body params) (any, error) {
				courseID, err := body.require("courseId")
				if err != nil {
					return nil, err
				}
				name, err := body.require("name")
				if err != nil {
					return nil, err
				}
				assignID, err := s.service.CreateAssignment(r.Context(), sess, courseID, name)
				if err != nil {
					return nil, err
				}
				return map[string]any{"assignId": assignID}, nil
			})
			return
		case "/uncreateAssignment":
			s.respondBody(w, r, func(body params) (any, error) {
				assignID, err := body.require("assignId")
				if err != nil {
					return nil, err
				}
				return okPayload(s.service.UncreateAssignment(r.Context(), sess, assignID))
			})
			return
		case "/submitProject":
			s.respondBody(w, r, func(body params) (any, error) {
				assignID, err := body.require("assignId")
				if err != nil {
					return nil, err
				}
				projID, err := body.require("projId")
				if err != nil {
					return nil, err
				}
				submitID, err := s.service.SubmitProject(r.Context(), sess, assignID, projID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"submitId": submitID}, nil
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.UserName == "" {
		// Basic credentials are accepted as the signup identity too.
		if userName, password, ok := basicCredentials(r); ok {
			body.UserName = userName
			body.Password = password
		}
	}
	if body.UserName == "" {
		status, code, message, details := mapError(errMissingParameter("userName"))
		writeError(w, status, code, message, details)
		return
	}
	payload, err := s.service.CreateUser(r.Context(), body.UserName, body.Password, body.Email)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		UserName string `json:"userName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.UserName == "" {
		status, code, message, details := mapError(errMissingParameter("userName"))
		writeError(w, status, code, message, details)
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.UserName); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	userName, password, ok := basicCredentials(r)
	if !ok {
		var body struct {
			UserName string `json:"userName"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		userName, password = body.UserName, body.Password
	}
	if userName == "" {
		requestLogin(w)
		return
	}
	sess, err := s.service.Login(r.Context(), userName, password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     sess.Token,
		"userName":  sess.UserName,
		"expiresAt": sess.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleSaveProject(w http.ResponseWriter, r *http.Request, sess Session) {
	projID := strings.TrimSpace(r.URL.Query().Get("projId"))
	if projID == "" {
		status, code, message, details := mapError(errMissingParameter("projId"))
		writeError(w, status, code, message, details)
		return
	}
	sharedName := strings.TrimSpace(r.URL.Query().Get("sharedName"))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body", nil)
		return
	}
	if len(payload) > maxPayloadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Snapshot exceeds size limit", nil)
		return
	}

	revID, created, err := s.service.SaveProject(r.Context(), sess, projID, sharedName, payload)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revId": revID, "created": created})
}

func (s *HTTPServer) handleSearchProjects(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	payload, err := s.service.SearchProjects(r.Context(), q, limit, offset)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCourseShare(w http.ResponseWriter, r *http.Request, sess Session, op func(context.Context, Session, string, string) error) {
	s.respondBody(w, r, func(body params) (any, error) {
		projID, err := body.require("projId")
		if err != nil {
			return nil, err
		}
		courseID, err := body.require("courseId")
		if err != nil {
			return nil, err
		}
		return okPayload(op(r.Context(), sess, projID, courseID))
	})
}

func (s *HTTPServer) handleRosterChange(w http.ResponseWriter, r *http.Request, sess Session, op func(context.Context, Session, string, string) error) {
	s.respondBody(w, r, func(body params) (any, error) {
		courseID, err := body.require("courseId")
		if err != nil {
			return nil, err
		}
		userName, err := body.require("userName")
		if err != nil {
			return nil, err
		}
		return okPayload(op(r.Context(), sess, courseID, userName))
	})
}

// params is a flat string-valued JSON request body.
type params map[string]string

func (p params) require(name string) (string, error) {
	value := strings.TrimSpace(p[name])
	if value == "" {
		return "", errMissingParameter(name)
	}
	return value, nil
}

func okPayload(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, op func() (any, error)) {
	payload, err := op()
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) respondBody(w http.ResponseWriter, r *http.Request, op func(params) (any, error)) {
	body := params{}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := op(body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// requireSession authenticates the caller: a bearer session token, or basic
// credentials in either the standard header or the legacy
// Snap-Server-Authorization header.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if token := bearerToken(r); token != "" {
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "NEED_AUTHENTICATION", "Session invalid or expired", nil)
				return Session{}, false
			}
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return Session{}, false
		}
		return sess, true
	}

	if userName, password, ok := basicCredentials(r); ok {
		sess, err := s.service.Authenticate(r.Context(), userName, password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return Session{}, false
		}
		return sess, true
	}

	requestLogin(w)
	return Session{}, false
}

func requireParam(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", errMissingParameter(name)
	}
	return value, nil
}

func requestLogin(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="SnapServer"`)
	status, code, message, details := mapError(errNeedAuthentication())
	writeError(w, status, code, message, details)
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Snap-Server-Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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
	if r.Body == nil || r.ContentLength == 0 {
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

// basicCredentials reads basic auth from the standard Authorization header or
// from Snap-Server-Authorization, which clients behind proxies that strip
// Authorization use instead.
func basicCredentials(r *http.Request) (userName, password string, ok bool) {
	if userName, password, ok = r.BasicAuth(); ok {
		return userName, password, true
	}
	header := strings.TrimSpace(r.Header.Get("Snap-Server-Authorization"))
	if header == "" {
		return "", "", false
	}
	if idx := strings.LastIndex(header, " "); idx >= 0 {
		header = header[idx+1:]
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
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
		return http.StatusUnauthorized, "NEED_AUTHENTICATION", "Session invalid or expired", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
