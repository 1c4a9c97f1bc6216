package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sarvex/infisical/internal/api/middleware"
	"github.com/sarvex/infisical/internal/auth"
	"github.com/sarvex/infisical/internal/crypto"
	"github.com/sarvex/infisical/internal/db"
	"github.com/sarvex/infisical/internal/licensing"
	"github.com/sarvex/infisical/internal/models"
	"github.com/sarvex/infisical/internal/notifications"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockStore is an in-memory store backing the handler tests.
type mockStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	usersByEmail  map[string]*models.User
	organizations map[uuid.UUID]*models.Organization
	memberships   map[uuid.UUID]*models.OrgMembership
	licenses      map[uuid.UUID]*models.License
	workspaces    map[uuid.UUID]*models.Workspace

	createLicenseErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:         make(map[uuid.UUID]*models.User),
		usersByEmail:  make(map[string]*models.User),
		organizations: make(map[uuid.UUID]*models.Organization),
		memberships:   make(map[uuid.UUID]*models.OrgMembership),
		licenses:      make(map[uuid.UUID]*models.License),
		workspaces:    make(map[uuid.UUID]*models.Workspace),
	}
}

func (s *mockStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u
	return nil
}

func (s *mockStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
	return nil
}

func (s *mockStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org, ok := s.organizations[id]; ok {
		return org, nil
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) GetUserOrganizations(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orgs []*models.Organization
	for _, m := range s.memberships {
		if m.UserID == userID {
			if org, ok := s.organizations[m.OrgID]; ok {
				orgs = append(orgs, org)
			}
		}
	}
	return orgs, nil
}

func (s *mockStore) CreateMembership(ctx context.Context, m *models.OrgMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.ID] = m
	return nil
}

func (s *mockStore) GetMembershipByID(ctx context.Context, id uuid.UUID) (*models.OrgMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[id]; ok {
		return m, nil
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID uuid.UUID) (*models.OrgMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.UserID == userID && m.OrgID == orgID {
			return m, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) GetMembershipsByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.OrgMembershipWithUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.OrgMembershipWithUser
	for _, m := range s.memberships {
		if m.OrgID != orgID {
			continue
		}
		entry := &models.OrgMembershipWithUser{
			ID:     m.ID,
			UserID: m.UserID,
			OrgID:  m.OrgID,
			Role:   m.Role,
			Status: m.Status,
		}
		if u, ok := s.users[m.UserID]; ok {
			entry.Email = u.Email
			entry.Name = u.Name
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *mockStore) UpdateMembership(ctx context.Context, m *models.OrgMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[m.ID]; !ok {
		return db.ErrNotFound
	}
	s.memberships[m.ID] = m
	return nil
}

func (s *mockStore) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.memberships, id)
	return nil
}

func (s *mockStore) CreateLicense(ctx context.Context, lic *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createLicenseErr != nil {
		return s.createLicenseErr
	}
	s.licenses[lic.ID] = lic
	return nil
}

func (s *mockStore) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[id]; ok {
		return lic, nil
	}
	return nil, db.ErrNotFound
}

func (s *mockStore) GetLicensesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.License
	for _, lic := range s.licenses {
		if lic.OrgID == orgID {
			result = append(result, lic)
		}
	}
	return result, nil
}

func (s *mockStore) GetWorkspacesByOrgID(ctx context.Context, orgID uuid.UUID) ([]*models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Workspace
	for _, w := range s.workspaces {
		if w.OrgID == orgID {
			result = append(result, w)
		}
	}
	return result, nil
}

// mockGateway records license server calls.
type mockGateway struct {
	mu         sync.Mutex
	issueCalls int
	fetchCalls int
	issueErr   error
	fetchErr   error
	licenseKey string
	metadata   map[string]any
}

func (g *mockGateway) IssueLicenseKey(ctx context.Context, email, description string) (*licensing.KeyGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issueCalls++
	if g.issueErr != nil {
		return nil, g.issueErr
	}
	meta := g.metadata
	if meta == nil {
		meta = map[string]any{"plan": "pro"}
	}
	return &licensing.KeyGrant{LicenseKey: g.licenseKey, Metadata: meta}, nil
}

func (g *mockGateway) FetchLicenseInfo(ctx context.Context, licenseKey string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	meta := g.metadata
	if meta == nil {
		meta = map[string]any{"plan": "pro"}
	}
	return meta, nil
}

// mockMailer records license key and invite emails.
type mockMailer struct {
	mu        sync.Mutex
	sent      []notifications.NewLicenseKeyData
	to        [][]string
	invites   []notifications.InviteData
	inviteTo  [][]string
	err       error
	inviteErr error
}

func (m *mockMailer) SendNewLicenseKey(to []string, data notifications.NewLicenseKeyData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, data)
	m.to = append(m.to, to)
	return nil
}

func (m *mockMailer) SendOrganizationInvite(to []string, data notifications.InviteData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inviteErr != nil {
		return m.inviteErr
	}
	m.invites = append(m.invites, data)
	m.inviteTo = append(m.inviteTo, to)
	return nil
}

// mockSeats records seat sync requests.
type mockSeats struct {
	mu    sync.Mutex
	calls []uuid.UUID
	done  chan struct{}
}

func newMockSeats() *mockSeats {
	return &mockSeats{done: make(chan struct{}, 16)}
}

func (m *mockSeats) Sync(ctx context.Context, orgID uuid.UUID) {
	m.mu.Lock()
	m.calls = append(m.calls, orgID)
	m.mu.Unlock()
	m.done <- struct{}{}
}

func (m *mockSeats) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testKeyManager(t *testing.T) *crypto.KeyManager {
	t.Helper()
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	km, err := crypto.NewKeyManager(key)
	if err != nil {
		t.Fatalf("NewKeyManager() error = %v", err)
	}
	return km
}

// fakeAuth injects an authenticated user without a real session.
func fakeAuth(user *auth.SessionUser) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(middleware.UserContextKey), user)
		c.Next()
	}
}

// seedOrgWithMember creates an organization with one membership and
// returns the session user for that member.
func seedOrgWithMember(store *mockStore, role models.OrgRole, status models.MembershipStatus) (*models.Organization, *auth.SessionUser) {
	user := models.NewUser("member@acme.test", "Member", "x")
	store.users[user.ID] = user
	store.usersByEmail[user.Email] = user

	org := models.NewOrganization("Acme Corp")
	store.organizations[org.ID] = org

	m := models.NewOrgMembership(user.ID, org.ID, role, status)
	store.memberships[m.ID] = m

	return org, &auth.SessionUser{ID: user.ID, Email: user.Email, Name: user.Name}
}
