package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/compendium/internal/store"
)

func setupAuthStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: db}, mock
}

func postJSON(t *testing.T, e *echo.Echo, path string, body any) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	blob, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(blob))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestSignupCreatesUser(t *testing.T) {
	st, mock := setupAuthStore(t)
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	query := regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)
	mock.ExpectExec(query).
		WithArgs("alice@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, rec := postJSON(t, echo.New(), "/api/auth/signup",
		AuthSignupRequest{Email: "alice@example.com", Password: "hunter2234"})

	if err := handler.signup(ctx); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	st, _ := setupAuthStore(t)
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	ctx, _ := postJSON(t, echo.New(), "/api/auth/signup",
		AuthSignupRequest{Email: "alice@example.com", Password: "short"})

	err := handler.signup(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	st, mock := setupAuthStore(t)
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	query := regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)
	mock.ExpectExec(query).
		WithArgs("alice@example.com", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	ctx, _ := postJSON(t, echo.New(), "/api/auth/signup",
		AuthSignupRequest{Email: "alice@example.com", Password: "hunter2234"})

	err := handler.signup(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestLoginSetsCookieAndReturnsToken(t *testing.T) {
	st, mock := setupAuthStore(t)
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2234"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	query := regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)
	mock.ExpectQuery(query).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("u-1", string(hash)))

	ctx, rec := postJSON(t, echo.New(), "/api/auth/login",
		AuthLoginRequest{Email: "alice@example.com", Password: "hunter2234"})

	if err := handler.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token in the response body")
	}
	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == "auth" && c.Value == resp.Token {
			found = true
		}
	}
	if !found {
		t.Fatal("expected auth cookie matching the token")
	}
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	st, mock := setupAuthStore(t)
	handler := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	query := regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)
	mock.ExpectQuery(query).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("u-1", string(hash)))

	ctx, _ := postJSON(t, echo.New(), "/api/auth/login",
		AuthLoginRequest{Email: "alice@example.com", Password: "wrong-password"})

	err = handler.login(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
