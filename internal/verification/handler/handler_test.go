package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/jwttoken"
	"verigate/internal/verification/models"
	"verigate/internal/verification/service"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/requestcontext"
)

type stubService struct {
	attempt    *models.Attempt
	resumed    bool
	conflict   bool
	err        error
	lastUserID id.UserID
	lastSub    service.Submission
}

func (s *stubService) StartOrResume(_ context.Context, userID id.UserID) (*models.Attempt, bool, error) {
	s.lastUserID = userID
	return s.attempt, s.resumed, s.err
}

func (s *stubService) SubmitForDecision(_ context.Context, sub service.Submission) (*models.Attempt, error) {
	s.lastSub = sub
	return s.attempt, s.err
}

func (s *stubService) GetAttempt(_ context.Context, _ id.AttemptID, userID id.UserID) (*models.Attempt, error) {
	s.lastUserID = userID
	if s.err != nil {
		return nil, s.err
	}
	return s.attempt, nil
}

func (s *stubService) GuardUniqueness(_ context.Context, _ string, userID id.UserID) (bool, error) {
	s.lastUserID = userID
	return s.conflict, s.err
}

func newRouter(svc Service) chi.Router {
	r := chi.NewRouter()
	New(svc, slog.Default()).Register(r)
	return r
}

func authed(req *http.Request, userID id.UserID, role string) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func sampleAttempt(userID id.UserID) *models.Attempt {
	attempt, _ := models.NewAttempt(id.NewAttemptID(), userID, 2, models.TierDocumentAI, time.Now().UTC())
	attempt.ConfidenceScore = 0.87
	return attempt
}

func TestHandleStartOrResume(t *testing.T) {
	userID := id.UserID(uuid.New())

	t.Run("requires authentication", func(t *testing.T) {
		router := newRouter(&stubService{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verification/attempts", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("creates with 201", func(t *testing.T) {
		svc := &stubService{attempt: sampleAttempt(userID)}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts", nil), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp AttemptResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.AttemptNumber)
		assert.Equal(t, "document_ai", resp.Provider)
		assert.False(t, resp.Resumed)
		assert.Equal(t, userID, svc.lastUserID)
	})

	t.Run("resumes with 200", func(t *testing.T) {
		svc := &stubService{attempt: sampleAttempt(userID), resumed: true}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts", nil), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp AttemptResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Resumed)
	})

	t.Run("target override requires staff", func(t *testing.T) {
		target := id.UserID(uuid.New())
		body, _ := json.Marshal(StartRequest{TargetUserID: target.String()})

		svc := &stubService{attempt: sampleAttempt(target)}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts", bytes.NewReader(body)), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = httptest.NewRecorder()
		req = authed(httptest.NewRequest(http.MethodPost, "/verification/attempts", bytes.NewReader(body)), userID, jwttoken.RoleStaff)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, target, svc.lastUserID)
	})
}

func TestHandleSubmit(t *testing.T) {
	userID := id.UserID(uuid.New())
	attempt := sampleAttempt(userID)
	attempt.DocumentCheck = &models.DocumentCheck{Success: true}

	body, _ := json.Marshal(map[string]any{
		"assets":              map[string]string{"front": "a/front", "selfie": "a/selfie"},
		"submitted_id_number": "30111222",
		"country_iso2":        "AR",
	})

	t.Run("submits and reports percent score", func(t *testing.T) {
		svc := &stubService{attempt: attempt}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts/"+attempt.ID.String()+"/submit", bytes.NewReader(body)), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp SubmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 87, resp.ConfidenceScorePercent)
		require.NotNil(t, resp.DocumentCheck)
		assert.True(t, resp.DocumentCheck.Success)
		assert.Equal(t, "a/front", svc.lastSub.Assets.Front)
		assert.Equal(t, "30111222", svc.lastSub.SubmittedIDNumber)
	})

	t.Run("rejects a malformed attempt id", func(t *testing.T) {
		router := newRouter(&stubService{attempt: attempt})
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts/not-a-uuid/submit", bytes.NewReader(body)), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps service errors", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeForbidden, "attempt belongs to another user")}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/attempts/"+attempt.ID.String()+"/submit", bytes.NewReader(body)), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandleGetAttempt(t *testing.T) {
	userID := id.UserID(uuid.New())
	attempt := sampleAttempt(userID)
	attempt.RequestedComponents = []models.Component{models.ComponentSelfie}

	t.Run("reads own attempt", func(t *testing.T) {
		svc := &stubService{attempt: attempt}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodGet, "/verification/attempts/"+attempt.ID.String(), nil), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp AttemptDetailResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 87, resp.ConfidenceScorePercent)
		assert.Equal(t, []string{"selfie"}, resp.RequestedComponents)
		assert.Equal(t, userID, svc.lastUserID, "non-staff reads are scoped to the caller")
	})

	t.Run("staff reads are unscoped", func(t *testing.T) {
		svc := &stubService{attempt: attempt}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodGet, "/verification/attempts/"+attempt.ID.String(), nil), id.UserID(uuid.New()), jwttoken.RoleStaff)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, svc.lastUserID.IsZero())
	})

	t.Run("maps not found", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeNotFound, "attempt not found")}
		router := newRouter(svc)
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodGet, "/verification/attempts/"+id.NewAttemptID().String(), nil), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleUniquenessCheck(t *testing.T) {
	userID := id.UserID(uuid.New())

	t.Run("requires an id number", func(t *testing.T) {
		router := newRouter(&stubService{})
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/uniqueness-check", bytes.NewReader([]byte(`{}`))), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reports a conflict", func(t *testing.T) {
		router := newRouter(&stubService{conflict: true})
		rec := httptest.NewRecorder()
		req := authed(httptest.NewRequest(http.MethodPost, "/verification/uniqueness-check", bytes.NewReader([]byte(`{"id_number":"30111222"}`))), userID, jwttoken.RoleUser)
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp UniquenessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Conflict)
	})
}
