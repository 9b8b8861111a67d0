package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/models"
)

func seedUser(t *testing.T, gdb *gorm.DB, email, password string, role models.RoleName) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.User{ID: uuid.NewString(), Email: email, Password: string(hash), Role: role}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func TestRoutesOpenWithoutSecret(t *testing.T) {
	f := newTestAPI(t, nil)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusCreated {
		t.Errorf("create without credentials status = %d, want 201", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/v1/audit", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("audit without credentials status = %d, want 200", rr.Code)
	}
	// No secret, no login endpoint.
	if rr := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@b.c", "password": "x"}, nil); rr.Code != http.StatusNotFound {
		t.Errorf("login route status = %d, want 404", rr.Code)
	}
}

func TestLoginAndBearerToken(t *testing.T) {
	f := newTestAPI(t, []byte("test-secret"))
	seedUser(t, f.db, "planner@example.com", "swordfish", models.RoleUser)

	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("create without token status = %d, want 401", rr.Code)
	}

	bad := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "planner@example.com",
		"password": "wrong",
	}, nil)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", bad.Code)
	}

	token := f.login(t, "planner@example.com", "swordfish")
	rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), bearer(token))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create with token status = %d, want 201 (body=%s)", rr.Code, rr.Body.String())
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	f := newTestAPI(t, []byte("test-secret"))
	seedUser(t, f.db, "planner@example.com", "swordfish", models.RoleUser)
	token := f.login(t, "planner@example.com", "swordfish")

	created := f.do(t, http.MethodPost, "/api/v1/apikeys", map[string]string{"name": "cli"}, bearer(token))
	if created.Code != http.StatusCreated {
		t.Fatalf("create key status = %d, want 201 (body=%s)", created.Code, created.Body.String())
	}
	var createResp struct {
		APIKey apiKeyResponse `json:"api_key"`
		Key    string         `json:"key"`
	}
	if err := json.NewDecoder(created.Body).Decode(&createResp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(createResp.Key, "cv_") {
		t.Errorf("plaintext key = %q, want cv_ prefix", createResp.Key)
	}
	if !strings.HasPrefix(createResp.Key, createResp.APIKey.KeyPrefix) {
		t.Errorf("key prefix %q does not match key %q", createResp.APIKey.KeyPrefix, createResp.Key)
	}

	withKey := http.Header{"X-API-Key": []string{createResp.Key}}
	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("standup", testDay(9, 0), 30), withKey); rr.Code != http.StatusCreated {
		t.Fatalf("create activity with api key status = %d, want 201 (body=%s)", rr.Code, rr.Body.String())
	}

	list := f.do(t, http.MethodGet, "/api/v1/apikeys", nil, bearer(token))
	if list.Code != http.StatusOK {
		t.Fatalf("list keys status = %d, want 200", list.Code)
	}
	var listResp struct {
		APIKeys []apiKeyResponse `json:"api_keys"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listResp.APIKeys) != 1 || listResp.APIKeys[0].Name != "cli" {
		t.Fatalf("listed keys = %+v, want one named cli", listResp.APIKeys)
	}

	revoked := f.do(t, http.MethodDelete, "/api/v1/apikeys/"+createResp.APIKey.ID, nil, bearer(token))
	if revoked.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200 (body=%s)", revoked.Code, revoked.Body.String())
	}
	if rr := f.do(t, http.MethodPost, "/api/v1/activities", fixedBody("later", testDay(14, 0), 30), withKey); rr.Code != http.StatusUnauthorized {
		t.Errorf("revoked key status = %d, want 401", rr.Code)
	}
}

func TestAuditRequiresAdminRole(t *testing.T) {
	f := newTestAPI(t, []byte("test-secret"))
	seedUser(t, f.db, "planner@example.com", "swordfish", models.RoleUser)
	seedUser(t, f.db, "root@example.com", "hunter2hunter2", models.RoleAdmin)

	userToken := f.login(t, "planner@example.com", "swordfish")
	if rr := f.do(t, http.MethodGet, "/api/v1/audit", nil, bearer(userToken)); rr.Code != http.StatusForbidden {
		t.Errorf("audit as user status = %d, want 403", rr.Code)
	}

	adminToken := f.login(t, "root@example.com", "hunter2hunter2")
	if rr := f.do(t, http.MethodGet, "/api/v1/audit", nil, bearer(adminToken)); rr.Code != http.StatusOK {
		t.Errorf("audit as admin status = %d, want 200 (body=%s)", rr.Code, rr.Body.String())
	}
}

func TestLoginUnknownUser(t *testing.T) {
	f := newTestAPI(t, []byte("test-secret"))

	rr := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if body := decodeError(t, rr); body["error"] != "invalid_credentials" {
		t.Errorf("error = %v, want invalid_credentials", body["error"])
	}
}
