package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/store"
)

func issueTestToken(t *testing.T, svc *Service, userID, userName string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:         userID,
		DisplayName: userName,
		JTI:         "jti-test",
		Exp:         time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["ok"] != false || payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload)
	}
	checks := payload["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["status"] != "error" {
		t.Fatalf("expected database error, got %v", database)
	}
}

func TestSignUpReturnsSessionContract(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	fs.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		if userID != created.ID {
			return store.User{}, errors.New("unknown user")
		}
		return created, nil
	}
	svc := newTestService(fs)
	svc.authpw = authpw.NewService(fs)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"avery@example.com","password":"correct-horse","displayName":"Avery"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	token, _ := payload["token"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" || refreshToken == "" {
		t.Fatalf("expected session tokens, got %v", payload)
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected userName Avery, got %v", payload["userName"])
	}
	if created.Email != "avery@example.com" {
		t.Fatalf("expected lowercased email stored, got %q", created.Email)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email}, nil
		},
	}
	svc := newTestService(fs)
	svc.authpw = authpw.NewService(fs)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"avery@example.com","password":"correct-horse","displayName":"Avery"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", payload["code"])
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	svc.authpw = authpw.NewService(fs)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery@example.com","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/meetings", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestRevokedTokenIsRejected(t *testing.T) {
	fs := &fakeStore{
		isRevokedFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodGet, "/api/meetings", token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionIntrospection(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["authenticated"] != false {
		t.Fatalf("expected authenticated=false, got %v", payload)
	}

	token := issueTestToken(t, svc, "usr_1", "Avery")
	rr = doRequest(t, server, http.MethodGet, "/api/session", token, "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["userName"] != "Avery" {
		t.Fatalf("expected authenticated session for Avery, got %v", payload)
	}
}

func TestRefreshWithUnknownTokenIsUnauthorized(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/session/refresh", "",
		`{"refreshToken":"rft_unknown"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMeetingRoutesHideNonMembers(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "", nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodGet, "/api/meetings/mtg-1", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", payload["code"])
	}
}

func TestVoteRouteRejectsInvalidChoice(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "member", nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodPut, "/api/meetings/mtg-1/motions/mot-1/vote", token,
		`{"choice":"maybe"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestEndRouteReportsTieAsRetryable(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		listVotesFn: func(context.Context, string) ([]store.Vote, error) {
			return []store.Vote{
				{VoterID: "usr_1", Choice: "for"},
				{VoterID: "usr_2", Choice: "against"},
			}, nil
		},
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/meetings/mtg-1/motions/mot-1/end", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for a tie, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["resolved"] != false || payload["outcome"] != "tied" {
		t.Fatalf("expected unresolved tie, got %v", payload)
	}
}

func TestHistoryDeleteValidatesEventID(t *testing.T) {
	svc := newTestService(&fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodDelete, "/api/meetings/mtg-1/history/not-a-number", token, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestChatRoutePostsAndLists(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/meetings/mtg-1/chat", token,
		`{"body":"Ready to vote."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["body"] != "Ready to vote." {
		t.Fatalf("expected message body echoed, got %v", payload)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/meetings/mtg-1/chat", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	listing := decodeResponse(t, rr)
	messages, ok := listing["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one message, got %v", listing)
	}
}

func TestChatRouteRequiresBody(t *testing.T) {
	svc := newTestService(&fakeStore{})
	server := NewHTTPServer(svc, "*")
	token := issueTestToken(t, svc, "usr_1", "Avery")

	rr := doRequest(t, server, http.MethodPost, "/api/meetings/mtg-1/chat", token, `{"body":"  "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}
