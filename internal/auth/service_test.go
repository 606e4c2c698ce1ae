package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/testutil"
)

func init() {
	// storage.EncryptedString needs a 32-byte key before any User row with
	// a Password field can be written or read; tests in this package all
	// share the process-level key.
	if err := storage.InitEncryption([]byte("0123456789abcdef0123456789abcdef")); err != nil {
		panic(err)
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	store := cache.NewMemStore()
	jwt, err := NewJWTManager([]byte("super-secret-test-key"), "remembr-test", time.Minute, time.Hour)
	require.NoError(t, err)
	return NewService(db, store, jwt), db
}

func TestServiceLoginSuccess(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "alice@example.com", Password: storage.EncryptedString(hashed), IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	pair, gotUser, err := svc.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "correct horse battery staple"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, user.ID, gotUser.ID)
}

func TestServiceLoginWrongPassword(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "bob@example.com", Password: storage.EncryptedString(hashed), IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	_, _, err = svc.Login(context.Background(), LoginRequest{Email: "bob@example.com", Password: "wrong"})
	require.Error(t, err)
}

func TestServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "x"})
	require.Error(t, err)
}

func TestServiceLoginDisabledUser(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("pw")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "disabled@example.com", Password: storage.EncryptedString(hashed), IsActive: false}
	require.NoError(t, db.Create(&user).Error)

	_, _, err = svc.Login(context.Background(), LoginRequest{Email: "disabled@example.com", Password: "pw"})
	require.Error(t, err)
}

func TestServiceRefreshTokenIssuesNewAccessToken(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("pw")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "carol@example.com", Password: storage.EncryptedString(hashed), IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	pair, _, err := svc.Login(context.Background(), LoginRequest{Email: "carol@example.com", Password: "pw"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
}

func TestServiceRefreshTokenRejectsRevoked(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("pw")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "dave@example.com", Password: storage.EncryptedString(hashed), IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	pair, _, err := svc.Login(context.Background(), LoginRequest{Email: "dave@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), pair.RefreshToken))

	_, err = svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.Error(t, err)
}

func TestServiceResolveIdentity(t *testing.T) {
	svc, db := newTestService(t)

	orgID := testutil.NewOrg(t, db)
	hashed, err := HashPassword("pw")
	require.NoError(t, err)
	user := storage.User{OrgID: orgID, Email: "erin@example.com", Password: storage.EncryptedString(hashed), IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	pair, _, err := svc.Login(context.Background(), LoginRequest{Email: "erin@example.com", Password: "pw"})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)

	identity, err := svc.ResolveIdentity(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, orgID.String(), identity.OrgID)
	assert.Equal(t, user.ID.String(), identity.UserID)
}
