package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/mock"
	"github.com/rollcall/rollcall/internal/web/middleware"
)

func newAuthFixture(t *testing.T) (*AuthHandler, *mock.UserStore, *middleware.TokenManager) {
	t.Helper()
	users := mock.NewUserStore()
	tokens := middleware.NewTokenManager("test-secret", time.Minute)
	return NewAuthHandler(users, tokens), users, tokens
}

func storeUser(t *testing.T, users *mock.UserStore, username, password string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = users.Create(context.Background(), &database.User{
		Username:     username,
		PasswordHash: string(hash),
		Active:       active,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func TestAuthToken(t *testing.T) {
	handler, users, tokens := newAuthFixture(t)
	storeUser(t, users, "operator", "correct-horse", true)
	storeUser(t, users, "retired", "correct-horse", false)

	t.Run("ValidCredentials", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "operator",
			"password": "correct-horse",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusOK)

		var resp tokenResponse
		parseJSONResponse(t, rec, &resp)
		if resp.Token == "" {
			t.Fatal("expected a token")
		}
		if resp.ExpiresIn != 60 {
			t.Errorf("expected expires_in 60, got %d", resp.ExpiresIn)
		}

		username, err := tokens.Verify(resp.Token)
		if err != nil {
			t.Fatalf("issued token does not verify: %v", err)
		}
		if username != "operator" {
			t.Errorf("expected token subject operator, got %s", username)
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "operator",
			"password": "wrong",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
		assertJSONError(t, rec, "invalid credentials")
	})

	t.Run("UnknownUser", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "nobody",
			"password": "whatever",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
		assertJSONError(t, rec, "invalid credentials")
	})

	t.Run("DeactivatedUser", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "retired",
			"password": "correct-horse",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusUnauthorized)
	})

	t.Run("MissingFields", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "operator",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusBadRequest)
	})

	t.Run("StorageFault", func(t *testing.T) {
		users.GetError = errors.New("connection refused")
		defer func() { users.GetError = nil }()

		req := jsonRequest(t, http.MethodPost, "/api/v1/auth/token", map[string]string{
			"username": "operator",
			"password": "correct-horse",
		})
		rec := httptest.NewRecorder()
		handler.Token(rec, req)

		assertStatusCode(t, rec, http.StatusServiceUnavailable)
	})
}
