package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/cryptox"
	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server/config"
	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/provider"
	"github.com/mivanovs/telegate/internal/server/repositories/repomanager"
)

// StartAuthStatus is the outcome of a StartAuth call.
type StartAuthStatus string

const (
	StatusAlreadyAuthorized StartAuthStatus = "already_authorized"
	StatusCodeSent          StartAuthStatus = "code_sent"
)

// StartAuthResult reports what StartAuth did for the profile.
type StartAuthResult struct {
	ProfileID int64
	Status    StartAuthStatus
}

// LoginResult reports a completed login.
type LoginResult struct {
	Phone    string
	Username string
}

// ProfileSummary is the read-model row returned by ListProfiles.
type ProfileSummary struct {
	ID           int64
	Phone        string
	IsAuthorized bool
	FirstName    string
	LastName     string
	Username     string
	PhotoID      string
	LastLogin    *time.Time
}

// PhotoStore archives profile photos. Satisfied by *PhotoArchive.
type PhotoStore interface {
	Store(ctx context.Context, profileID int64, data []byte) (string, error)
}

// AuthService drives the profile login ceremony: phone, one-time code,
// optional two-factor password. Authorization state is never stored as an
// explicit enum; it is derived from the profile's flags and the session
// credential (see models.DeriveAuthState).
//
// Every step acquires its own provider client and disconnects it on every
// exit path. No step leaves a profile authorized without a persisted
// credential.
type AuthService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	factory         provider.Factory
	photos          PhotoStore
	sealer          *cryptox.Sealer
	logger          logging.Logger
	providerTimeout time.Duration
}

// NewAuthService constructs the orchestrator. photos may be nil when no
// object storage is configured.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, factory provider.Factory,
	photos PhotoStore, cfg *config.Config, logger logging.Logger) *AuthService {
	return &AuthService{
		db:              db,
		repomanager:     m,
		factory:         factory,
		photos:          photos,
		sealer:          cryptox.NewSealer(cfg.SecretKey),
		logger:          logger.With("component", "auth"),
		providerTimeout: cfg.ProviderTimeout,
	}
}

// StartAuth begins (or short-circuits) the login ceremony for (userID, phone).
//
// A phone claimed by a different user is rejected before any provider
// contact, as is a profile that is already authorized. When the provider
// reports the stored credential is still signed in from a previous run, the
// authorized flag is reconciled to true without requesting a fresh code.
// Otherwise a one-time code is requested and the challenge token plus the
// (possibly newly issued) credential are persisted together.
func (s *AuthService) StartAuth(ctx context.Context, userID int64, phone string) (*StartAuthResult, error) {
	if _, err := s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("user: %w", common.ErrorNotFound)
		}
		return nil, common.ErrorInternal
	}

	profilesRepo := s.repomanager.Profiles(s.db)

	profile, err := profilesRepo.GetByPhone(ctx, phone)
	switch {
	case err == nil:
		if profile.UserID != userID {
			return nil, common.ErrorPhoneClaimed
		}
	case errors.Is(err, common.ErrorNotFound):
		profile, err = profilesRepo.Create(ctx, &models.Profile{UserID: userID, Phone: phone})
		if err != nil {
			return nil, fmt.Errorf("creating profile: %w", err)
		}
	default:
		return nil, common.ErrorInternal
	}

	if profile.IsAuthorized {
		return &StartAuthResult{ProfileID: profile.ID, Status: StatusAlreadyAuthorized}, nil
	}

	session := s.loadSession(ctx, profile.ID)

	client, err := s.connect(ctx, session)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	authorized, err := client.IsAuthorized(opCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorProviderUnreachable, err)
	}
	if authorized {
		// The stored credential survived from a previous run; reconcile the
		// flag with provider truth instead of requesting a fresh code.
		if err := s.persistCredential(ctx, s.db, profile.ID, session, client); err != nil {
			return nil, err
		}
		if err := profilesRepo.SetAuthorized(ctx, profile.ID, true); err != nil {
			return nil, common.ErrorInternal
		}
		s.logger.Info(ctx, "profile reconciled as authorized", "profile_id", profile.ID)
		return &StartAuthResult{ProfileID: profile.ID, Status: StatusAlreadyAuthorized}, nil
	}

	challenge, err := client.RequestCode(opCtx, phone)
	if err != nil {
		return nil, fmt.Errorf("requesting code: %w", err)
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		profile.PendingChallenge = &challenge.Token
		if err := s.repomanager.Profiles(tx).Update(ctx, profile); err != nil {
			return err
		}
		return s.persistCredential(ctx, tx, profile.ID, session, client)
	}); err != nil {
		return nil, fmt.Errorf("persisting challenge: %w", err)
	}

	s.logger.Info(ctx, "code requested", "profile_id", profile.ID)
	return &StartAuthResult{ProfileID: profile.ID, Status: StatusCodeSent}, nil
}

// VerifyCode submits the delivered one-time code. Without an outstanding
// challenge it fails with ErrorChallengeNotPending and touches nothing. A
// two-factor account surfaces ErrorPasswordRequired so the caller can route
// to VerifyPassword; a wrong code surfaces ErrorAuthRejected and leaves the
// profile unchanged for a retry via StartAuth.
func (s *AuthService) VerifyCode(ctx context.Context, userID int64, phone, code string) (*LoginResult, error) {
	profile, err := s.repomanager.Profiles(s.db).GetByUserAndPhone(ctx, userID, phone)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("profile: %w", common.ErrorNotFound)
		}
		return nil, common.ErrorInternal
	}

	if profile.PendingChallenge == nil || *profile.PendingChallenge == "" {
		return nil, common.ErrorChallengeNotPending
	}

	session := s.loadSession(ctx, profile.ID)

	client, err := s.connect(ctx, session)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	err = client.SignInWithCode(opCtx, phone, code, *profile.PendingChallenge)
	switch {
	case errors.Is(err, provider.ErrPasswordRequired):
		return nil, common.ErrorPasswordRequired
	case errors.Is(err, provider.ErrAuthRejected):
		return nil, common.ErrorAuthRejected
	case err != nil:
		return nil, fmt.Errorf("verifying code: %w", err)
	}

	return s.finishLogin(ctx, profile, session, client)
}

// VerifyPassword completes the two-factor branch. The pending-challenge
// precondition is relaxed here: the provider tracks 2FA state server-side,
// so only the profile needs to exist.
func (s *AuthService) VerifyPassword(ctx context.Context, userID int64, phone, password string) (*LoginResult, error) {
	profile, err := s.repomanager.Profiles(s.db).GetByUserAndPhone(ctx, userID, phone)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("profile: %w", common.ErrorNotFound)
		}
		return nil, common.ErrorInternal
	}

	session := s.loadSession(ctx, profile.ID)

	client, err := s.connect(ctx, session)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	err = client.SignInWithPassword(opCtx, password)
	switch {
	case errors.Is(err, provider.ErrAuthRejected):
		return nil, common.ErrorAuthRejected
	case err != nil:
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	return s.finishLogin(ctx, profile, session, client)
}

// ListProfiles returns summaries of every profile owned by userID.
func (s *AuthService) ListProfiles(ctx context.Context, userID int64) ([]ProfileSummary, error) {
	list, err := s.repomanager.Profiles(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	result := make([]ProfileSummary, 0, len(list))
	for _, p := range list {
		result = append(result, ProfileSummary{
			ID:           p.ID,
			Phone:        p.Phone,
			IsAuthorized: p.IsAuthorized,
			FirstName:    strOrEmpty(p.FirstName),
			LastName:     strOrEmpty(p.LastName),
			Username:     strOrEmpty(p.Username),
			PhotoID:      strOrEmpty(p.PhotoID),
			LastLogin:    p.LastLogin,
		})
	}
	return result, nil
}

// finishLogin runs the shared tail of VerifyCode/VerifyPassword: persist the
// rotated credential, write account metadata, flip the authorized flag, and
// clear the challenge — all in one transaction so no partial authorized
// state survives a failure. Photo archival afterwards is best-effort.
func (s *AuthService) finishLogin(ctx context.Context, profile *models.Profile,
	session *models.Session, client provider.Client) (*LoginResult, error) {

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	account, err := client.Me(opCtx)
	if err != nil {
		return nil, fmt.Errorf("fetching account metadata: %w", err)
	}

	profile.FirstName = strPtr(account.FirstName)
	profile.LastName = strPtr(account.LastName)
	profile.Username = strPtr(account.Username)
	profile.PendingChallenge = nil
	profile.IsAuthorized = true

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.persistCredential(ctx, tx, profile.ID, session, client); err != nil {
			return err
		}
		if err := s.repomanager.Profiles(tx).Update(ctx, profile); err != nil {
			return err
		}
		return s.repomanager.Profiles(tx).TouchLastLogin(ctx, profile.ID)
	}); err != nil {
		return nil, fmt.Errorf("persisting login: %w", err)
	}

	s.archivePhoto(ctx, profile, client)

	s.logger.Info(ctx, "profile authorized", "profile_id", profile.ID)
	return &LoginResult{Phone: profile.Phone, Username: account.Username}, nil
}

// archivePhoto downloads and stores the account photo. Failures are logged,
// never fatal to the login that triggered them.
func (s *AuthService) archivePhoto(ctx context.Context, profile *models.Profile, client provider.Client) {
	if s.photos == nil {
		return
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, ok, err := client.DownloadPhoto(opCtx)
	if err != nil {
		s.logger.Warn(ctx, "photo download failed", "profile_id", profile.ID, "error", err.Error())
		return
	}
	if !ok {
		return
	}

	key, err := s.photos.Store(ctx, profile.ID, data)
	if err != nil {
		s.logger.Warn(ctx, "photo archive failed", "profile_id", profile.ID, "error", err.Error())
		return
	}

	profile.PhotoID = &key
	if err := s.repomanager.Profiles(s.db).Update(ctx, profile); err != nil {
		s.logger.Warn(ctx, "photo id update failed", "profile_id", profile.ID, "error", err.Error())
	}
}

// loadSession returns the profile's active session or nil when none exists
// yet; the session row is materialized lazily on first credential persist.
func (s *AuthService) loadSession(ctx context.Context, profileID int64) *models.Session {
	session, err := s.repomanager.Sessions(s.db).GetActiveByProfile(ctx, profileID)
	if err != nil {
		return nil
	}
	return session
}

// connect builds a provider client from the session credential (empty when
// no session exists) and connects it within the configured timeout. A stored
// credential that no longer opens under the current key is treated as
// absent: the code flow below reissues one.
func (s *AuthService) connect(ctx context.Context, session *models.Session) (provider.Client, error) {
	credential := ""
	if session != nil {
		opened, err := s.sealer.Open(session.CredentialOrEmpty())
		if err != nil {
			s.logger.Warn(ctx, "stored credential unreadable, starting fresh",
				"session_id", session.ID, "error", err.Error())
		} else {
			credential = opened
		}
	}

	client, err := s.factory.NewClient(credential)
	if err != nil {
		return nil, common.ErrorInternal
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := client.Connect(opCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorProviderUnreachable, err)
	}
	return client, nil
}

// persistCredential writes the client's current credential into the
// profile's session row, creating the row on first use. The provider may
// rotate transport state on any call, so this runs after every interaction.
func (s *AuthService) persistCredential(ctx context.Context, tx dbx.DBTX, profileID int64,
	session *models.Session, client provider.Client) error {

	credential, err := client.ExportCredential()
	if err != nil {
		return fmt.Errorf("exporting credential: %w", err)
	}
	sealed, err := s.sealer.Seal(credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	repo := s.repomanager.Sessions(tx)
	if session == nil {
		_, err = repo.Create(ctx, profileID, sealed)
		return err
	}
	return repo.UpdateCredential(ctx, session.ID, sealed)
}

func (s *AuthService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.providerTimeout)
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
