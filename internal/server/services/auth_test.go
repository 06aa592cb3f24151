package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/cryptox"
	"github.com/mivanovs/telegate/internal/server/config"
	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T, rm *fakeRepoManager, f *fakeFactory) (*AuthService, *sql.DB) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	cfg := &config.Config{ProviderTimeout: time.Second}
	return NewAuthService(db, rm, f, nil, cfg, testLogger()), db
}

func strp(v string) *string { return &v }

func TestStartAuth_AlreadyAuthorized_SkipsProvider(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", IsAuthorized: true}
	factory := &fakeFactory{client: &fakeClient{}}

	s, db := newAuthService(t, rm, factory)
	defer db.Close()

	res, err := s.StartAuth(context.Background(), 1, "+371200")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyAuthorized, res.Status)
	assert.Equal(t, 0, factory.newCalls, "authorized profile must not touch the provider")
}

func TestStartAuth_PhoneClaimedByOtherUser(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhone = &models.Profile{ID: 10, UserID: 2, Phone: "+371200"}
	factory := &fakeFactory{client: &fakeClient{}}

	s, db := newAuthService(t, rm, factory)
	defer db.Close()

	_, err := s.StartAuth(context.Background(), 1, "+371200")
	require.ErrorIs(t, err, common.ErrorPhoneClaimed)
	assert.Equal(t, 0, factory.newCalls, "conflict must be detected before any provider contact")
}

func TestStartAuth_UnknownUser(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byIDErr = common.ErrorNotFound

	s, db := newAuthService(t, rm, &fakeFactory{client: &fakeClient{}})
	defer db.Close()

	_, err := s.StartAuth(context.Background(), 99, "+371200")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestStartAuth_CodeSent_PersistsChallengeAndCredential(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhoneErr = common.ErrorNotFound // profile created on first start
	client := &fakeClient{challenge: "ch-42", credential: "fresh-cred"}
	factory := &fakeFactory{client: client}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second}
	s := NewAuthService(db, rm, factory, nil, cfg, testLogger())

	res, err := s.StartAuth(context.Background(), 1, "+371200")
	require.NoError(t, err)
	assert.Equal(t, StatusCodeSent, res.Status)

	require.Len(t, rm.p.created, 1)
	require.Len(t, rm.p.updated, 1)
	require.NotNil(t, rm.p.updated[0].PendingChallenge)
	assert.Equal(t, "ch-42", *rm.p.updated[0].PendingChallenge)
	assert.False(t, rm.p.updated[0].IsAuthorized)

	require.Len(t, rm.ses.created, 1)
	assert.Equal(t, "fresh-cred", rm.ses.created[0].Credential)

	assert.Equal(t, 1, client.requestCodeCalls)
	assert.Equal(t, 1, client.disconnects, "client must be released")
	assert.Empty(t, rm.p.touched, "a code request is not a completed login")
}

func TestStartAuth_ReconcilesProviderAuthorizedSession(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200"}
	rm.ses.active = &models.Session{ID: 20, ProfileID: 10, Credential: strp("old-cred"), IsActive: true}
	client := &fakeClient{authorized: true, credential: "rotated-cred"}
	factory := &fakeFactory{client: client}

	s, db := newAuthService(t, rm, factory)
	defer db.Close()

	res, err := s.StartAuth(context.Background(), 1, "+371200")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyAuthorized, res.Status)

	assert.Equal(t, "old-cred", factory.gotCredential)
	assert.Equal(t, []authorizedFlip{{ID: 10, V: true}}, rm.p.flips)
	require.Len(t, rm.ses.updated, 1)
	assert.Equal(t, "rotated-cred", rm.ses.updated[0].Credential)
	assert.Equal(t, 0, client.requestCodeCalls, "surviving session must not trigger a code request")
}

func TestStartAuth_ConnectFailure(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200"}
	client := &fakeClient{connectErr: errors.New("dial tcp: refused")}

	s, db := newAuthService(t, rm, &fakeFactory{client: client})
	defer db.Close()

	_, err := s.StartAuth(context.Background(), 1, "+371200")
	require.ErrorIs(t, err, common.ErrorProviderUnreachable)
	assert.Empty(t, rm.p.flips, "no partial authorized state on failure")
	assert.Empty(t, rm.p.updated)
}

func TestVerifyCode_WithoutChallenge_PreconditionFailed(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200"}
	factory := &fakeFactory{client: &fakeClient{}}

	s, db := newAuthService(t, rm, factory)
	defer db.Close()

	_, err := s.VerifyCode(context.Background(), 1, "+371200", "12345")
	require.ErrorIs(t, err, common.ErrorChallengeNotPending)
	assert.Equal(t, 0, factory.newCalls)
	assert.Empty(t, rm.p.updated, "authorized flag must stay untouched")
}

func TestVerifyCode_PasswordRequired_IsDistinct(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", PendingChallenge: strp("ch-42")}
	client := &fakeClient{signInCodeErr: provider.ErrPasswordRequired}

	s, db := newAuthService(t, rm, &fakeFactory{client: client})
	defer db.Close()

	_, err := s.VerifyCode(context.Background(), 1, "+371200", "12345")
	require.ErrorIs(t, err, common.ErrorPasswordRequired)
	assert.Empty(t, rm.p.updated, "2FA routing must not mutate the profile")
	assert.Equal(t, 1, client.disconnects)
}

func TestVerifyCode_Rejected_LeavesStateForRetry(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", PendingChallenge: strp("ch-42")}
	client := &fakeClient{signInCodeErr: provider.ErrAuthRejected}

	s, db := newAuthService(t, rm, &fakeFactory{client: client})
	defer db.Close()

	_, err := s.VerifyCode(context.Background(), 1, "+371200", "99999")
	require.ErrorIs(t, err, common.ErrorAuthRejected)
	assert.Empty(t, rm.p.updated)
	assert.Empty(t, rm.ses.updated)
}

func TestVerifyCode_Success_FlipsAuthorizedAndClearsChallenge(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", PendingChallenge: strp("ch-42")}
	rm.ses.active = &models.Session{ID: 20, ProfileID: 10, Credential: strp("old-cred"), IsActive: true}
	client := &fakeClient{
		credential: "rotated-cred",
		account:    &provider.Account{FirstName: "Jana", Username: "jana_k", Phone: "+371200"},
	}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second}
	s := NewAuthService(db, rm, &fakeFactory{client: client}, nil, cfg, testLogger())

	res, err := s.VerifyCode(context.Background(), 1, "+371200", "12345")
	require.NoError(t, err)
	assert.Equal(t, "jana_k", res.Username)
	assert.Equal(t, "+371200", res.Phone)

	assert.Equal(t, "ch-42", client.gotChallenge)

	require.Len(t, rm.p.updated, 1)
	updated := rm.p.updated[0]
	assert.True(t, updated.IsAuthorized)
	assert.Nil(t, updated.PendingChallenge)
	require.NotNil(t, updated.FirstName)
	assert.Equal(t, "Jana", *updated.FirstName)

	// Authorized implies a persisted non-empty credential.
	require.Len(t, rm.ses.updated, 1)
	assert.Equal(t, "rotated-cred", rm.ses.updated[0].Credential)
	assert.Equal(t, []int64{10}, rm.p.touched, "completed login must bump last_login")
	assert.Equal(t, 1, client.disconnects)
}

func TestVerifyPassword_Success_RelaxedPrecondition(t *testing.T) {
	// No pending challenge: the provider tracks 2FA state server-side.
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200"}
	rm.ses.active = &models.Session{ID: 20, ProfileID: 10, Credential: strp("old-cred"), IsActive: true}
	client := &fakeClient{
		credential: "rotated-cred",
		account:    &provider.Account{FirstName: "Jana", Username: "jana_k"},
	}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second}
	s := NewAuthService(db, rm, &fakeFactory{client: client}, nil, cfg, testLogger())

	res, err := s.VerifyPassword(context.Background(), 1, "+371200", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "jana_k", res.Username)
	assert.Equal(t, "hunter2", client.gotPassword)

	require.Len(t, rm.p.updated, 1)
	assert.True(t, rm.p.updated[0].IsAuthorized)
}

func TestVerifyPassword_Rejected(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200"}
	client := &fakeClient{signInPasswordErr: provider.ErrAuthRejected}

	s, db := newAuthService(t, rm, &fakeFactory{client: client})
	defer db.Close()

	_, err := s.VerifyPassword(context.Background(), 1, "+371200", "wrong")
	require.ErrorIs(t, err, common.ErrorAuthRejected)
	assert.Empty(t, rm.p.updated)
}

func TestListProfiles(t *testing.T) {
	rm := newFakeRepoManager()
	lastLogin := time.Now()
	rm.p.list = []*models.Profile{
		{ID: 10, Phone: "+371200", IsAuthorized: true, Username: strp("jana_k"), LastLogin: &lastLogin},
		{ID: 11, Phone: "+371201"},
	}

	s, db := newAuthService(t, rm, &fakeFactory{client: &fakeClient{}})
	defer db.Close()

	list, err := s.ListProfiles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "jana_k", list[0].Username)
	assert.True(t, list[0].IsAuthorized)
	assert.Equal(t, "", list[1].Username)
	assert.False(t, list[1].IsAuthorized)
}

type fakePhotoStore struct {
	key      string
	err      error
	gotData  []byte
	gotCalls int
}

func (f *fakePhotoStore) Store(ctx context.Context, profileID int64, data []byte) (string, error) {
	f.gotCalls++
	f.gotData = data
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

func TestFinishLogin_ArchivesPhotoBestEffort(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", PendingChallenge: strp("ch-42")}
	rm.ses.active = &models.Session{ID: 20, ProfileID: 10, Credential: strp("old"), IsActive: true}
	client := &fakeClient{
		credential: "rotated",
		account:    &provider.Account{Username: "jana_k"},
		hasPhoto:   true,
		photo:      []byte{0xff, 0xd8},
	}
	photos := &fakePhotoStore{key: "profiles/10/p.jpg"}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second}
	s := NewAuthService(db, rm, &fakeFactory{client: client}, photos, cfg, testLogger())

	_, err := s.VerifyCode(context.Background(), 1, "+371200", "12345")
	require.NoError(t, err)

	assert.Equal(t, 1, photos.gotCalls)
	// Second profile update records the photo id.
	require.Len(t, rm.p.updated, 2)
	require.NotNil(t, rm.p.updated[1].PhotoID)
	assert.Equal(t, "profiles/10/p.jpg", *rm.p.updated[1].PhotoID)
}

func TestFinishLogin_PhotoFailureIsNotFatal(t *testing.T) {
	rm := newFakeRepoManager()
	rm.p.byUserPhone = &models.Profile{ID: 10, UserID: 1, Phone: "+371200", PendingChallenge: strp("ch-42")}
	rm.ses.active = &models.Session{ID: 20, ProfileID: 10, Credential: strp("old"), IsActive: true}
	client := &fakeClient{
		credential: "rotated",
		account:    &provider.Account{Username: "jana_k"},
		hasPhoto:   true,
		photo:      []byte{0xff},
	}
	photos := &fakePhotoStore{err: errors.New("bucket missing")}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second}
	s := NewAuthService(db, rm, &fakeFactory{client: client}, photos, cfg, testLogger())

	res, err := s.VerifyCode(context.Background(), 1, "+371200", "12345")
	require.NoError(t, err)
	assert.Equal(t, "jana_k", res.Username)
	require.Len(t, rm.p.updated, 1, "failed archive must not write a photo id")
}

func TestStartAuth_CredentialSealedAtRest(t *testing.T) {
	rm := newFakeRepoManager()
	rm.u.byID = &models.User{ID: 1}
	rm.p.byPhoneErr = common.ErrorNotFound
	client := &fakeClient{challenge: "ch-1", credential: "raw-provider-cred"}
	factory := &fakeFactory{client: client}

	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	cfg := &config.Config{ProviderTimeout: time.Second, SecretKey: "unit-secret"}
	s := NewAuthService(db, rm, factory, nil, cfg, testLogger())

	_, err := s.StartAuth(context.Background(), 1, "+371200")
	require.NoError(t, err)

	require.Len(t, rm.ses.created, 1)
	stored := rm.ses.created[0].Credential
	assert.NotEqual(t, "raw-provider-cred", stored, "credential must not be stored in the clear")

	opened, err := cryptox.NewSealer("unit-secret").Open(stored)
	require.NoError(t, err)
	assert.Equal(t, "raw-provider-cred", opened)
}
