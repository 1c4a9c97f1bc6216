package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/auth"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/models"
)

func newLicensesRouter(h *LicensesHandler, user *auth.SessionUser) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1", fakeAuth(user))
	h.RegisterRoutes(api)
	return r
}

func createLicenseBody(t *testing.T, orgID, email string) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"organizationId": orgID,
		"email":          email,
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(body)
}

func TestCreateLicense(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleMember, models.MembershipStatusAccepted)
	km := testKeyManager(t)
	gateway := &mockGateway{licenseKey: "lk_created", metadata: map[string]any{"plan": "pro", "seats": float64(5)}}
	mailer := &mockMailer{}

	h := NewLicensesHandler(store, km, gateway, mailer, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["licenseKey"] != "lk_created" {
		t.Errorf("licenseKey = %v, want lk_created", resp["licenseKey"])
	}
	if resp["type"] != string(models.LicenseTypeAdditional) {
		t.Errorf("type = %v, want %s", resp["type"], models.LicenseTypeAdditional)
	}
	if resp["plan"] != "pro" {
		t.Errorf("metadata plan = %v, want pro", resp["plan"])
	}
	if resp["seats"] != float64(5) {
		t.Errorf("metadata seats = %v, want 5", resp["seats"])
	}

	if len(store.licenses) != 1 {
		t.Fatalf("stored licenses = %d, want 1", len(store.licenses))
	}
	for _, lic := range store.licenses {
		if lic.OrgID != org.ID {
			t.Errorf("license org = %s, want %s", lic.OrgID, org.ID)
		}
		if lic.Type != models.LicenseTypeAdditional {
			t.Errorf("license type = %s, want %s", lic.Type, models.LicenseTypeAdditional)
		}
		if lic.KeyCiphertext == "lk_created" {
			t.Error("license key stored in plaintext")
		}
		key, err := km.DecryptString(lic.KeyCiphertext, lic.KeyIV, lic.KeyAuthTag)
		if err != nil {
			t.Fatalf("DecryptString() error = %v", err)
		}
		if key != "lk_created" {
			t.Errorf("decrypted key = %q, want lk_created", key)
		}
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(mailer.sent))
	}
	if mailer.sent[0].LicenseKey != "lk_created" {
		t.Errorf("emailed key = %q, want lk_created", mailer.sent[0].LicenseKey)
	}
	if mailer.to[0][0] != "billing@acme.test" {
		t.Errorf("email recipient = %q, want billing@acme.test", mailer.to[0][0])
	}
}

func TestCreateLicenseGatewayFailure(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleOwner, models.MembershipStatusAccepted)
	gateway := &mockGateway{issueErr: errors.New("license server down")}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, &mockMailer{}, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Body.String(); got != `{"error":"failed to create additional license"}` {
		t.Errorf("body = %s", got)
	}
	if len(store.licenses) != 0 {
		t.Errorf("stored licenses = %d, want 0", len(store.licenses))
	}
}

func TestCreateLicensePersistFailure(t *testing.T) {
	store := newMockStore()
	store.createLicenseErr = errors.New("connection reset")
	org, user := seedOrgWithMember(store, models.OrgRoleOwner, models.MembershipStatusAccepted)
	gateway := &mockGateway{licenseKey: "lk_orphaned"}
	mailer := &mockMailer{}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, mailer, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if gateway.issueCalls != 1 {
		t.Errorf("issue calls = %d, want 1", gateway.issueCalls)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("emails sent = %d, want 0", len(mailer.sent))
	}
}

func TestCreateLicenseMailFailure(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleOwner, models.MembershipStatusAccepted)
	gateway := &mockGateway{licenseKey: "lk_undelivered"}
	mailer := &mockMailer{err: errors.New("smtp refused")}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, mailer, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	// Persisted before the send was attempted.
	if len(store.licenses) != 1 {
		t.Errorf("stored licenses = %d, want 1", len(store.licenses))
	}
}

func TestCreateLicenseNoMailer(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleOwner, models.MembershipStatusAccepted)
	gateway := &mockGateway{licenseKey: "lk_nomail"}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, nil, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestCreateLicenseNoGateway(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleOwner, models.MembershipStatusAccepted)

	h := NewLicensesHandler(store, testKeyManager(t), nil, &mockMailer{}, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateLicenseGuardRejectsBeforeGateway(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleMember, models.MembershipStatusInvited)
	gateway := &mockGateway{licenseKey: "lk_unreachable"}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, &mockMailer{}, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses", createLicenseBody(t, org.ID.String(), "billing@acme.test"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if gateway.issueCalls != 0 {
		t.Errorf("issue calls = %d, want 0", gateway.issueCalls)
	}
}

func TestGetLicense(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleMember, models.MembershipStatusAccepted)
	km := testKeyManager(t)

	license := storedLicense(t, store, km, org.ID, "lk_fetch")
	gateway := &mockGateway{metadata: map[string]any{"plan": "enterprise", "used_seats": float64(12)}}

	h := NewLicensesHandler(store, km, gateway, nil, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/"+license.ID.String(), nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["id"] != license.ID.String() {
		t.Errorf("id = %v, want %s", resp["id"], license.ID)
	}
	if resp["plan"] != "enterprise" {
		t.Errorf("plan = %v, want enterprise", resp["plan"])
	}
	if _, ok := resp["licenseKey"]; ok {
		t.Error("plaintext license key leaked in fetch response")
	}
	if gateway.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1", gateway.fetchCalls)
	}
}

func TestGetLicenseUnknownIDSkipsGateway(t *testing.T) {
	store := newMockStore()
	_, user := seedOrgWithMember(store, models.OrgRoleMember, models.MembershipStatusAccepted)
	gateway := &mockGateway{}

	h := NewLicensesHandler(store, testKeyManager(t), gateway, nil, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/6e8e49ad-5a07-4c42-92aa-9b5e2bd2b0db", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if gateway.fetchCalls != 0 {
		t.Errorf("fetch calls = %d, want 0", gateway.fetchCalls)
	}
}

func TestGetLicenseGatewayFailure(t *testing.T) {
	store := newMockStore()
	org, user := seedOrgWithMember(store, models.OrgRoleMember, models.MembershipStatusAccepted)
	km := testKeyManager(t)

	license := storedLicense(t, store, km, org.ID, "lk_fail")
	gateway := &mockGateway{fetchErr: fmt.Errorf("license server returned 503")}

	h := NewLicensesHandler(store, km, gateway, nil, nil, zerolog.Nop())
	r := newLicensesRouter(h, user)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/"+license.ID.String(), nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Body.String(); got != `{"error":"failed to get license"}` {
		t.Errorf("body = %s", got)
	}
}

func storedLicense(t *testing.T, store *mockStore, km *crypto.KeyManager, orgID uuid.UUID, key string) *models.License {
	t.Helper()
	ciphertext, iv, tag, err := km.EncryptString(key)
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	license := models.NewLicense(orgID, models.LicenseTypeAdditional, ciphertext, iv, tag)
	store.licenses[license.ID] = license
	return license
}
