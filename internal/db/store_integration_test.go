//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sarvex/infisical/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("infisical_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"licenses", "workspaces", "org_memberships", "organizations", "users"} {
		_, err := testDB.Pool.Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return testDB
}

func createTestOrgWithOwner(t *testing.T, database *DB) (*models.Organization, *models.User) {
	t.Helper()
	ctx := context.Background()

	user := models.NewUser(fmt.Sprintf("owner-%s@example.com", uuid.NewString()[:8]), "Owner", "hash")
	require.NoError(t, database.CreateUser(ctx, user))

	org := models.NewOrganization("Acme")
	require.NoError(t, database.CreateOrganization(ctx, org))

	membership := models.NewOrgMembership(user.ID, org.ID, models.OrgRoleOwner, models.MembershipStatusAccepted)
	require.NoError(t, database.CreateMembership(ctx, membership))

	return org, user
}

func TestLicenseStore_RoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	org, _ := createTestOrgWithOwner(t, database)

	lic := models.NewLicense(org.ID, models.LicenseTypeAdditional, "Y2lwaGVy", "aXY=", "dGFn")
	require.NoError(t, database.CreateLicense(ctx, lic))

	got, err := database.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, got.ID)
	assert.Equal(t, org.ID, got.OrgID)
	assert.Equal(t, models.LicenseTypeAdditional, got.Type)
	assert.Equal(t, "Y2lwaGVy", got.KeyCiphertext)
	assert.Equal(t, "aXY=", got.KeyIV)
	assert.Equal(t, "dGFn", got.KeyAuthTag)
}

func TestLicenseStore_NotFound(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.GetLicenseByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = database.GetOrgLicense(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLicenseStore_OneOrgLicensePerOrganization(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	org, _ := createTestOrgWithOwner(t, database)

	first := models.NewLicense(org.ID, models.LicenseTypeOrganization, "YQ==", "Yg==", "Yw==")
	require.NoError(t, database.CreateLicense(ctx, first))

	// the partial unique index must reject a second seat-tracked record
	second := models.NewLicense(org.ID, models.LicenseTypeOrganization, "ZA==", "ZQ==", "Zg==")
	assert.Error(t, database.CreateLicense(ctx, second))

	// additional licenses are not limited
	for i := 0; i < 3; i++ {
		extra := models.NewLicense(org.ID, models.LicenseTypeAdditional, "YQ==", "Yg==", "Yw==")
		require.NoError(t, database.CreateLicense(ctx, extra))
	}

	licenses, err := database.GetLicensesByOrgID(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, licenses, 4)

	orgLic, err := database.GetOrgLicense(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, orgLic.ID)
}

func TestLicenseStore_GetLicensedOrgIDs(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	org1, _ := createTestOrgWithOwner(t, database)
	org2, _ := createTestOrgWithOwner(t, database)

	require.NoError(t, database.CreateLicense(ctx, models.NewLicense(org1.ID, models.LicenseTypeOrganization, "YQ==", "Yg==", "Yw==")))
	require.NoError(t, database.CreateLicense(ctx, models.NewLicense(org2.ID, models.LicenseTypeAdditional, "YQ==", "Yg==", "Yw==")))

	ids, err := database.GetLicensedOrgIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{org1.ID}, ids)
}

func TestMembershipStore_CountAccepted(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	org, _ := createTestOrgWithOwner(t, database)

	invited := models.NewUser("invited@example.com", "Invited", "hash")
	require.NoError(t, database.CreateUser(ctx, invited))
	require.NoError(t, database.CreateMembership(ctx,
		models.NewOrgMembership(invited.ID, org.ID, models.OrgRoleMember, models.MembershipStatusInvited)))

	count, err := database.CountAcceptedMemberships(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "invited memberships must not count as seats")

	m, err := database.GetMembershipByUserAndOrg(ctx, invited.ID, org.ID)
	require.NoError(t, err)
	m.Status = models.MembershipStatusAccepted
	require.NoError(t, database.UpdateMembership(ctx, m))

	count, err = database.CountAcceptedMemberships(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, database.DeleteMembership(ctx, m.ID))

	count, err = database.CountAcceptedMemberships(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMembershipStore_UpdateDeleteNotFound(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	missing := &models.OrgMembership{ID: uuid.New(), Role: models.OrgRoleMember, Status: models.MembershipStatusAccepted}
	assert.ErrorIs(t, database.UpdateMembership(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, database.DeleteMembership(ctx, uuid.New()), ErrNotFound)
}

func TestWorkspaceStore_ListByOrg(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	org, _ := createTestOrgWithOwner(t, database)

	require.NoError(t, database.CreateWorkspace(ctx, models.NewWorkspace(org.ID, "Backend")))
	require.NoError(t, database.CreateWorkspace(ctx, models.NewWorkspace(org.ID, "Frontend")))

	workspaces, err := database.GetWorkspacesByOrgID(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, workspaces, 2)
}

func TestUserStore_EmailCaseInsensitive(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	user := models.NewUser("Mixed.Case@Example.com", "User", "hash")
	require.NoError(t, database.CreateUser(ctx, user))

	got, err := database.GetUserByEmail(ctx, "mixed.case@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}
