package services

// Shared test doubles for the service layer: in-memory repositories behind a
// fake RepositoryManager and a scripted provider client.

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/provider"
	profilesrepo "github.com/mivanovs/telegate/internal/server/repositories/profiles"
	refreshtokensrepo "github.com/mivanovs/telegate/internal/server/repositories/refreshtokens"
	sessionsrepo "github.com/mivanovs/telegate/internal/server/repositories/sessions"
	usersrepo "github.com/mivanovs/telegate/internal/server/repositories/users"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

// --- repositories ---

type fakeUsersRepo struct {
	byID    *models.User
	byIDErr error

	byEmail    *models.User
	byEmailErr error

	createOut *models.User
	createErr error

	touched []int64
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createOut != nil {
		return f.createOut, nil
	}
	u.ID = 1
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byID, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.byEmailErr != nil {
		return nil, f.byEmailErr
	}
	return f.byEmail, nil
}

func (f *fakeUsersRepo) TouchLastLogin(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

type authorizedFlip struct {
	ID int64
	V  bool
}

type fakeProfilesRepo struct {
	byPhone    *models.Profile
	byPhoneErr error

	byUserPhone    *models.Profile
	byUserPhoneErr error

	list    []*models.Profile
	listErr error

	createErr error
	created   []*models.Profile

	updateErr error
	updated   []models.Profile

	setAuthorizedErr error
	flips            []authorizedFlip

	touched []int64
}

func (f *fakeProfilesRepo) Create(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	p.ID = int64(100 + len(f.created))
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakeProfilesRepo) GetByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	if f.byPhoneErr != nil {
		return nil, f.byPhoneErr
	}
	return f.byPhone, nil
}

func (f *fakeProfilesRepo) GetByUserAndPhone(ctx context.Context, userID int64, phone string) (*models.Profile, error) {
	if f.byUserPhoneErr != nil {
		return nil, f.byUserPhoneErr
	}
	return f.byUserPhone, nil
}

func (f *fakeProfilesRepo) ListByUser(ctx context.Context, userID int64) ([]*models.Profile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeProfilesRepo) Update(ctx context.Context, p *models.Profile) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, *p)
	return nil
}

func (f *fakeProfilesRepo) SetAuthorized(ctx context.Context, id int64, authorized bool) error {
	if f.setAuthorizedErr != nil {
		return f.setAuthorizedErr
	}
	f.flips = append(f.flips, authorizedFlip{ID: id, V: authorized})
	return nil
}

func (f *fakeProfilesRepo) TouchLastLogin(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

type createdSession struct {
	ProfileID  int64
	Credential string
}

type updatedCredential struct {
	ID         int64
	Credential string
}

type fakeSessionsRepo struct {
	active    *models.Session
	activeErr error

	createErr error
	created   []createdSession

	updateErr error
	updated   []updatedCredential

	deactivateErr error
	deactivated   []int64
}

func (f *fakeSessionsRepo) Create(ctx context.Context, profileID int64, credential string) (*models.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, createdSession{ProfileID: profileID, Credential: credential})
	return &models.Session{ID: int64(200 + len(f.created)), ProfileID: profileID, Credential: &credential, IsActive: true}, nil
}

func (f *fakeSessionsRepo) GetActiveByProfile(ctx context.Context, profileID int64) (*models.Session, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	if f.active == nil {
		return nil, common.ErrorNotFound
	}
	return f.active, nil
}

func (f *fakeSessionsRepo) UpdateCredential(ctx context.Context, id int64, credential string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, updatedCredential{ID: id, Credential: credential})
	return nil
}

func (f *fakeSessionsRepo) Deactivate(ctx context.Context, id int64) error {
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeRefreshRepo struct {
	findOut *models.RefreshToken
	findErr error

	createErr error
	created   []string

	delErr  error
	deleted []string
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID int64, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, token)
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, token)
	return nil
}

type fakeRepoManager struct {
	u   *fakeUsersRepo
	p   *fakeProfilesRepo
	ses *fakeSessionsRepo
	r   *fakeRefreshRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u:   &fakeUsersRepo{},
		p:   &fakeProfilesRepo{},
		ses: &fakeSessionsRepo{},
		r:   &fakeRefreshRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository { return m.u }

func (m *fakeRepoManager) Profiles(db dbx.DBTX) profilesrepo.Repository { return m.p }

func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.ses }

func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }

// --- provider ---

type fakeClient struct {
	connectErr   error
	connects     int
	disconnects  int

	authorized        bool
	isAuthorizedErr   error
	isAuthorizedCalls int

	challenge        string
	requestCodeErr   error
	requestCodeCalls int

	signInCodeErr    error
	signInCodeCalls  int
	gotCode          string
	gotChallenge     string

	signInPasswordErr   error
	signInPasswordCalls int
	gotPassword         string

	account *provider.Account
	meErr   error

	dialogs      []provider.Dialog
	dialogsErr   error
	dialogsCalls int

	messagesByDialog map[int64][]provider.Message
	messagesErr      error
	messageLimits    map[int64]int

	markReadErr error
	markedRead  []int64

	sendErr   error
	sentPeer  int64
	sentText  string
	sendCalls int

	resolveErr   error
	resolveCalls int

	photo    []byte
	hasPhoto bool
	photoErr error

	credential string
	exportErr  error
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.connects++
	return c.connectErr
}

func (c *fakeClient) Disconnect() { c.disconnects++ }

func (c *fakeClient) IsAuthorized(ctx context.Context) (bool, error) {
	c.isAuthorizedCalls++
	if c.isAuthorizedErr != nil {
		return false, c.isAuthorizedErr
	}
	return c.authorized, nil
}

func (c *fakeClient) RequestCode(ctx context.Context, phone string) (*provider.Challenge, error) {
	c.requestCodeCalls++
	if c.requestCodeErr != nil {
		return nil, c.requestCodeErr
	}
	return &provider.Challenge{Token: c.challenge}, nil
}

func (c *fakeClient) SignInWithCode(ctx context.Context, phone, code, challengeToken string) error {
	c.signInCodeCalls++
	c.gotCode = code
	c.gotChallenge = challengeToken
	return c.signInCodeErr
}

func (c *fakeClient) SignInWithPassword(ctx context.Context, password string) error {
	c.signInPasswordCalls++
	c.gotPassword = password
	return c.signInPasswordErr
}

func (c *fakeClient) Me(ctx context.Context) (*provider.Account, error) {
	if c.meErr != nil {
		return nil, c.meErr
	}
	return c.account, nil
}

func (c *fakeClient) Dialogs(ctx context.Context, limit int) ([]provider.Dialog, error) {
	c.dialogsCalls++
	if c.dialogsErr != nil {
		return nil, c.dialogsErr
	}
	return c.dialogs, nil
}

func (c *fakeClient) Messages(ctx context.Context, dialogID int64, limit int) ([]provider.Message, error) {
	if c.messagesErr != nil {
		return nil, c.messagesErr
	}
	if c.messageLimits == nil {
		c.messageLimits = map[int64]int{}
	}
	c.messageLimits[dialogID] = limit
	msgs := c.messagesByDialog[dialogID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (c *fakeClient) MarkRead(ctx context.Context, dialogID int64) error {
	if c.markReadErr != nil {
		return c.markReadErr
	}
	c.markedRead = append(c.markedRead, dialogID)
	return nil
}

func (c *fakeClient) Send(ctx context.Context, peerID int64, text string) error {
	c.sendCalls++
	c.sentPeer = peerID
	c.sentText = text
	return c.sendErr
}

func (c *fakeClient) ResolvePeer(ctx context.Context, peerID int64) (int64, error) {
	c.resolveCalls++
	if c.resolveErr != nil {
		return 0, c.resolveErr
	}
	return peerID, nil
}

func (c *fakeClient) DownloadPhoto(ctx context.Context) ([]byte, bool, error) {
	if c.photoErr != nil {
		return nil, false, c.photoErr
	}
	return c.photo, c.hasPhoto, nil
}

func (c *fakeClient) ExportCredential() (string, error) {
	if c.exportErr != nil {
		return "", c.exportErr
	}
	return c.credential, nil
}

type fakeFactory struct {
	client        *fakeClient
	newErr        error
	gotCredential string
	newCalls      int
}

func (f *fakeFactory) NewClient(credential string) (provider.Client, error) {
	f.newCalls++
	f.gotCredential = credential
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.client, nil
}
