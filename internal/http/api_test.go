package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/auth"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/repository/sqlite"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/service"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/storage"
)

const apiTestSecret = "api-test-secret"

type testApp struct {
	router *gin.Engine
	tokens *auth.TokenCodec
}

// fakeStorage keeps uploaded exports in memory.
type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) PutObject(_ context.Context, bucket, key string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.objects[key] = data
	return "s3://" + bucket + "/" + key, nil
}

func (f *fakeStorage) ListObjects(_ context.Context, _ string, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return objects, nil
}

func newTestApp(t *testing.T, store storage.Service, export service.ExportOptions) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	userRepo := sqlite.NewUserRepository(db)
	expenseRepo := sqlite.NewExpenseRepository(db)
	require.NoError(t, userRepo.Init(ctx))
	require.NoError(t, expenseRepo.Init(ctx))

	tokens, err := auth.NewTokenCodec(apiTestSecret, time.Hour)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	users := service.NewUserService(userRepo, auth.NewPasswordHasher(4), tokens)
	expenses := service.NewExpenseService(expenseRepo, store, export)

	router := gin.New()
	handler := NewHandler(users, expenses, tokens, logger)
	handler.RegisterRoutes(router)

	return &testApp{router: router, tokens: tokens}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

// registerAndLogin creates an account and returns its token and user id.
func (a *testApp) registerAndLogin(t *testing.T, username, password, email string) (string, int64) {
	t.Helper()

	w := a.do(t, http.MethodPost, "/users", "", gin.H{
		"username": username, "password": password, "email": email,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": username, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	userID := int64(body["userId"].(float64))
	require.Positive(t, userID)
	return token, userID
}

func validExpensePayload() gin.H {
	return gin.H{
		"amount":      100.0,
		"description": "lunch",
		"date":        time.Now().UTC().Format(time.RFC3339),
		"category":    "FOOD",
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	w := app.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})

	w := app.do(t, http.MethodPost, "/users", "", gin.H{
		"username": "alice", "password": "secret123", "email": "a@x.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password", "response must never leak password material")

	body := decodeBody(t, w)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "a@x.com", user["email"])

	// Same username again.
	w = app.do(t, http.MethodPost, "/users", "", gin.H{
		"username": "alice", "password": "secret123", "email": "b@x.com",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Missing fields.
	w = app.do(t, http.MethodPost, "/users", "", gin.H{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Bad email.
	w = app.do(t, http.MethodPost, "/users", "", gin.H{
		"username": "bob", "password": "secret123", "email": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	app.registerAndLogin(t, "alice", "secret123", "a@x.com")

	wrongPassword := app.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": "alice", "password": "wrong",
	})
	unknownUser := app.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": "ghost", "password": "secret123",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String(),
		"failure responses must be indistinguishable")
}

func TestExpenseLifecycle(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	aliceToken, aliceID := app.registerAndLogin(t, "alice", "secret123", "a@x.com")
	bobToken, _ := app.registerAndLogin(t, "bob", "secret456", "b@x.com")

	// Create: owner comes from the token, even if the payload names another.
	payload := validExpensePayload()
	payload["userId"] = 9999
	payload["owner_id"] = 9999
	w := app.do(t, http.MethodPost, "/expenses", aliceToken, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decodeBody(t, w)
	expenseID := int64(created["id"].(float64))
	assert.Equal(t, float64(aliceID), created["userId"])
	assert.Equal(t, "lunch", created["description"])
	assert.Equal(t, "FOOD", created["category"])

	path := fmt.Sprintf("/expenses/%d", expenseID)

	// Get: owner 200, other 403, anonymous 401.
	w = app.do(t, http.MethodGet, path, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(expenseID), decodeBody(t, w)["id"])

	w = app.do(t, http.MethodGet, path, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// List: only the caller's expenses.
	w = app.do(t, http.MethodGet, "/expenses", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = app.do(t, http.MethodGet, "/expenses", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(expenseID), list[0]["id"])

	// Patch: partial update by owner; foreign owner 403.
	w = app.do(t, http.MethodPatch, path, aliceToken, gin.H{
		"description": "team lunch", "category": "SHOPPING",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	patched := decodeBody(t, w)
	assert.Equal(t, "team lunch", patched["description"])
	assert.Equal(t, "SHOPPING", patched["category"])
	assert.Equal(t, float64(100), patched["amount"], "amount untouched")

	w = app.do(t, http.MethodPatch, path, bobToken, gin.H{"description": "hijack"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Delete: foreign owner 403, owner 200, then gone.
	w = app.do(t, http.MethodDelete, path, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodDelete, path, aliceToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, path, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpenseValidation(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	token, _ := app.registerAndLogin(t, "alice", "secret123", "a@x.com")

	payload := validExpensePayload()
	payload["category"] = "INVALID_CATEGORY"
	w := app.do(t, http.MethodPost, "/expenses", token, payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	payload = validExpensePayload()
	payload["date"] = "june first"
	w = app.do(t, http.MethodPost, "/expenses", token, payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/expenses", token, gin.H{"amount": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})

	w := app.do(t, http.MethodGet, "/expenses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/expenses", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expiredCodec, err := auth.NewTokenCodec(apiTestSecret, time.Nanosecond)
	require.NoError(t, err)
	expired, err := expiredCodec.Issue(1, "alice")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	w = app.do(t, http.MethodGet, "/expenses", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOwnershipGuardIDParsing(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	token, _ := app.registerAndLogin(t, "alice", "secret123", "a@x.com")

	// Bad and unknown ids read the same: 404.
	w := app.do(t, http.MethodGet, "/expenses/not-a-number", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/expenses/123456", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/expenses/-1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserRoutesAreSelfScoped(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	aliceToken, aliceID := app.registerAndLogin(t, "alice", "secret123", "a@x.com")
	_, bobID := app.registerAndLogin(t, "bob", "secret456", "b@x.com")

	selfPath := fmt.Sprintf("/users/%d", aliceID)
	otherPath := fmt.Sprintf("/users/%d", bobID)

	w := app.do(t, http.MethodGet, selfPath, aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decodeBody(t, w)
	assert.Equal(t, "alice", profile["username"])
	assert.NotContains(t, w.Body.String(), "password")

	w = app.do(t, http.MethodGet, otherPath, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodGet, selfPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	token, userID := app.registerAndLogin(t, "alice", "secret123", "a@x.com")

	path := fmt.Sprintf("/users/%d", userID)

	w := app.do(t, http.MethodPut, path, token, gin.H{
		"oldPassword": "wrong", "newPassword": "newsecret123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPut, path, token, gin.H{
		"oldPassword": "secret123", "newPassword": "newsecret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Old password no longer signs in, new one does.
	w = app.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": "alice", "password": "secret123",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": "alice", "password": "newsecret123",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteUserEndpoint(t *testing.T) {
	app := newTestApp(t, nil, service.ExportOptions{})
	token, userID := app.registerAndLogin(t, "alice", "secret123", "a@x.com")

	w := app.do(t, http.MethodDelete, fmt.Sprintf("/users/%d/delete", userID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, "/users/auth/login", "", gin.H{
		"username": "alice", "password": "secret123",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportEndpoints(t *testing.T) {
	noStorage := newTestApp(t, nil, service.ExportOptions{})
	token, _ := noStorage.registerAndLogin(t, "alice", "secret123", "a@x.com")

	w := noStorage.do(t, http.MethodPost, "/expenses/export", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	store := &fakeStorage{objects: make(map[string][]byte)}
	app := newTestApp(t, store, service.ExportOptions{Bucket: "fintrack", KeyPrefix: "exports"})
	aliceToken, _ := app.registerAndLogin(t, "alice", "secret123", "a@x.com")
	bobToken, _ := app.registerAndLogin(t, "bob", "secret456", "b@x.com")

	w = app.do(t, http.MethodPost, "/expenses", aliceToken, validExpensePayload())
	require.Equal(t, http.StatusCreated, w.Code)

	w = app.do(t, http.MethodPost, "/expenses/export", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	location := decodeBody(t, w)["location"].(string)
	assert.True(t, strings.HasPrefix(location, "s3://fintrack/"), location)

	w = app.do(t, http.MethodGet, "/expenses/export", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var exports []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exports))
	assert.Len(t, exports, 1)

	// Exports are scoped per user.
	w = app.do(t, http.MethodGet, "/expenses/export", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = app.do(t, http.MethodPost, "/expenses/export", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
