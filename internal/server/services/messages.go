package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/cryptox"
	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server/cache"
	"github.com/mivanovs/telegate/internal/server/config"
	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/provider"
	"github.com/mivanovs/telegate/internal/server/repositories/repomanager"
)

// dialogScanLimit bounds how many conversations one unread scan or receiver
// lookup walks.
const dialogScanLimit = 100

// mediaPlaceholder substitutes for messages without a text body.
const mediaPlaceholder = "[media]"

// UnreadMessage is one message in a FetchUnread result.
type UnreadMessage struct {
	ID       int64     `json:"id"`
	From     string    `json:"from"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
	ChatName string    `json:"chat_name"`
	ChatID   int64     `json:"chat_id"`
}

// UnreadResult is the FetchUnread payload; it is also what the message cache
// stores per profile.
type UnreadResult struct {
	Count    int             `json:"count"`
	Messages []UnreadMessage `json:"messages"`
}

// DialogSummary is one conversation in a ListDialogs result.
type DialogSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
	IsGroup     bool   `json:"is_group"`
	IsChannel   bool   `json:"is_channel"`
}

// MessageService wraps every post-login operation in a
// validate-then-execute-then-persist pattern: load the profile and its
// active session, connect a disposable provider client, re-check
// authorization with the provider, run the operation, persist the possibly
// rotated credential, disconnect.
//
// The local authorized flag is advisory. The moment the provider disagrees,
// the session is deactivated and the flag cleared in one transaction before
// the error is returned; this write-back is what keeps storage and provider
// truth from diverging.
type MessageService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	factory         provider.Factory
	cache           *cache.MessageCache
	sealer          *cryptox.Sealer
	logger          logging.Logger
	providerTimeout time.Duration
}

// NewMessageService constructs the gateway. msgCache may be nil when Redis
// is not configured.
func NewMessageService(db *sql.DB, m repomanager.RepositoryManager, factory provider.Factory,
	msgCache *cache.MessageCache, cfg *config.Config, logger logging.Logger) *MessageService {
	return &MessageService{
		db:              db,
		repomanager:     m,
		factory:         factory,
		cache:           msgCache,
		sealer:          cryptox.NewSealer(cfg.SecretKey),
		logger:          logger.With("component", "messages"),
		providerTimeout: cfg.ProviderTimeout,
	}
}

// FetchUnread collects up to min(unread, limit) recent messages from every
// conversation with unread messages, acknowledges those conversations as
// read (best-effort), and persists the rotated credential before returning.
func (s *MessageService) FetchUnread(ctx context.Context, userID int64, phone string, limit int) (*UnreadResult, error) {
	// The storage-side checks run before the cache: a cached result must
	// never outlive a cleared authorized flag or a deactivated session.
	profile, session, err := s.validate(ctx, userID, phone)
	if err != nil {
		return nil, err
	}

	var cached UnreadResult
	if s.cache.Get(ctx, profile.ID, &cached) {
		s.logger.Debug(ctx, "unread served from cache", "profile_id", profile.ID)
		return &cached, nil
	}

	client, err := s.connectSession(ctx, profile, session)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	dialogs, err := client.Dialogs(opCtx, dialogScanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing dialogs: %w", err)
	}

	result := &UnreadResult{Messages: []UnreadMessage{}}
	var unreadDialogs []provider.Dialog

	for _, dialog := range dialogs {
		if dialog.UnreadCount <= 0 {
			continue
		}
		unreadDialogs = append(unreadDialogs, dialog)

		messages, err := client.Messages(opCtx, dialog.ID, min(dialog.UnreadCount, limit))
		if err != nil {
			return nil, fmt.Errorf("fetching messages: %w", err)
		}

		for _, msg := range messages {
			result.Messages = append(result.Messages, UnreadMessage{
				ID:       msg.ID,
				From:     displayName(msg, dialog),
				Text:     textOrPlaceholder(msg.Text),
				Date:     msg.Date,
				ChatName: dialog.Name,
				ChatID:   dialog.ID,
			})
		}
	}
	result.Count = len(result.Messages)

	// Acknowledge only conversations that actually had unread messages.
	// Best-effort, not retried.
	for _, dialog := range unreadDialogs {
		if err := client.MarkRead(opCtx, dialog.ID); err != nil {
			s.logger.Warn(ctx, "mark-read failed", "profile_id", profile.ID, "dialog_id", dialog.ID, "error", err.Error())
		}
	}

	if err := s.persistRotatedCredential(ctx, session, client); err != nil {
		return nil, err
	}

	s.cache.Set(ctx, profile.ID, result)

	s.logger.Info(ctx, "unread fetched", "profile_id", profile.ID, "count", result.Count)
	return result, nil
}

// SendMessage resolves receiver to a provider-side peer and delivers text.
// A purely numeric receiver is tried as a direct peer id first, falling back
// to a dialog-list scan; a non-numeric receiver is matched against dialog
// names. An unresolvable receiver fails with ErrorEntityNotFound.
func (s *MessageService) SendMessage(ctx context.Context, userID int64, phone, text, receiver string) error {
	profile, session, client, err := s.acquire(ctx, userID, phone)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	peerID, err := s.resolveReceiver(opCtx, client, receiver)
	if err != nil {
		return err
	}

	if err := client.Send(opCtx, peerID, text); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	if err := s.persistRotatedCredential(ctx, session, client); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, profile.ID)

	s.logger.Info(ctx, "message sent", "profile_id", profile.ID, "peer_id", peerID)
	return nil
}

// ListDialogs returns up to limit conversations for the profile.
func (s *MessageService) ListDialogs(ctx context.Context, userID int64, phone string, limit int) ([]DialogSummary, error) {
	_, session, client, err := s.acquire(ctx, userID, phone)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	dialogs, err := client.Dialogs(opCtx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dialogs: %w", err)
	}

	if err := s.persistRotatedCredential(ctx, session, client); err != nil {
		return nil, err
	}

	result := make([]DialogSummary, 0, len(dialogs))
	for _, d := range dialogs {
		result = append(result, DialogSummary{
			ID:          d.ID,
			Name:        d.Name,
			UnreadCount: d.UnreadCount,
			IsGroup:     d.IsGroup,
			IsChannel:   d.IsChannel,
		})
	}
	return result, nil
}

// acquire runs the shared preamble: profile must exist and be authorized, an
// active session row must exist, the provider must connect and still
// consider the credential signed in. On provider disagreement or a
// connection-level failure the session is deactivated and the authorized
// flag cleared before the error is returned.
func (s *MessageService) acquire(ctx context.Context, userID int64, phone string) (*models.Profile, *models.Session, provider.Client, error) {
	profile, session, err := s.validate(ctx, userID, phone)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := s.connectSession(ctx, profile, session)
	if err != nil {
		return nil, nil, nil, err
	}

	return profile, session, client, nil
}

// validate runs the storage-side half of the preamble: the profile must
// exist, be authorized, and have an active session row. No provider contact.
func (s *MessageService) validate(ctx context.Context, userID int64, phone string) (*models.Profile, *models.Session, error) {
	profile, err := s.repomanager.Profiles(s.db).GetByUserAndPhone(ctx, userID, phone)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, fmt.Errorf("profile: %w", common.ErrorNotFound)
		}
		return nil, nil, common.ErrorInternal
	}

	if !profile.IsAuthorized {
		return nil, nil, common.ErrorNotAuthorized
	}

	session, err := s.repomanager.Sessions(s.db).GetActiveByProfile(ctx, profile.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// The flag says authorized but local session state is missing:
			// corrupted local state, distinct from not-authorized.
			return nil, nil, fmt.Errorf("active session: %w", common.ErrorNotFound)
		}
		return nil, nil, common.ErrorInternal
	}

	return profile, session, nil
}

// connectSession runs the provider-side half of the preamble: connect a
// disposable client from the stored credential and re-check authorization
// with the provider.
func (s *MessageService) connectSession(ctx context.Context, profile *models.Profile, session *models.Session) (provider.Client, error) {
	credential, err := s.sealer.Open(session.CredentialOrEmpty())
	if err != nil {
		// A credential sealed under a different key cannot authorize
		// anything; drop the session and force a fresh login.
		s.logger.Warn(ctx, "stored credential unreadable", "session_id", session.ID, "error", err.Error())
		s.deactivate(ctx, profile, session)
		return nil, common.ErrorSessionExpired
	}

	client, err := s.factory.NewClient(credential)
	if err != nil {
		return nil, common.ErrorInternal
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := client.Connect(opCtx); err != nil {
		s.deactivate(ctx, profile, session)
		return nil, fmt.Errorf("%w: %v", common.ErrorProviderUnreachable, err)
	}

	authorized, err := client.IsAuthorized(opCtx)
	if err != nil {
		client.Disconnect()
		s.deactivate(ctx, profile, session)
		return nil, fmt.Errorf("%w: %v", common.ErrorProviderUnreachable, err)
	}
	if !authorized {
		client.Disconnect()
		s.deactivate(ctx, profile, session)
		return nil, common.ErrorSessionExpired
	}

	return client, nil
}

// deactivate is the mandatory self-healing write-back: flip the session
// inactive and the profile unauthorized in one transaction, and drop any
// cached unread result so nothing is served on behalf of a dead session.
func (s *MessageService) deactivate(ctx context.Context, profile *models.Profile, session *models.Session) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Sessions(tx).Deactivate(ctx, session.ID); err != nil {
			return err
		}
		return s.repomanager.Profiles(tx).SetAuthorized(ctx, profile.ID, false)
	})
	if err != nil {
		s.logger.Error(ctx, "session deactivation failed", "profile_id", profile.ID, "error", err.Error())
	} else {
		s.logger.Info(ctx, "session deactivated", "profile_id", profile.ID)
	}
	s.cache.Invalidate(ctx, profile.ID)
}

func (s *MessageService) persistRotatedCredential(ctx context.Context, session *models.Session, client provider.Client) error {
	credential, err := client.ExportCredential()
	if err != nil {
		return fmt.Errorf("exporting credential: %w", err)
	}
	sealed, err := s.sealer.Seal(credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	if err := s.repomanager.Sessions(s.db).UpdateCredential(ctx, session.ID, sealed); err != nil {
		return common.ErrorInternal
	}
	return nil
}

func (s *MessageService) resolveReceiver(ctx context.Context, client provider.Client, receiver string) (int64, error) {
	if id, numErr := strconv.ParseInt(receiver, 10, 64); numErr == nil {
		peerID, err := client.ResolvePeer(ctx, id)
		if err == nil {
			return peerID, nil
		}
		if !errors.Is(err, provider.ErrPeerNotFound) {
			return 0, fmt.Errorf("resolving peer: %w", err)
		}
		// Unknown direct id: fall through to the dialog scan.
		return s.scanDialogsForPeer(ctx, client, func(d provider.Dialog) bool {
			return d.ID == id
		})
	}

	name := strings.TrimPrefix(receiver, "@")
	return s.scanDialogsForPeer(ctx, client, func(d provider.Dialog) bool {
		return strings.EqualFold(d.Name, name)
	})
}

func (s *MessageService) scanDialogsForPeer(ctx context.Context, client provider.Client, match func(provider.Dialog) bool) (int64, error) {
	dialogs, err := client.Dialogs(ctx, dialogScanLimit)
	if err != nil {
		return 0, fmt.Errorf("listing dialogs: %w", err)
	}
	for _, d := range dialogs {
		if match(d) {
			return d.ID, nil
		}
	}
	return 0, common.ErrorEntityNotFound
}

func (s *MessageService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.providerTimeout)
}

// displayName prefers the sender's given name, then the sender's handle,
// then the conversation's own name.
func displayName(msg provider.Message, dialog provider.Dialog) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	if msg.SenderUsername != "" {
		return msg.SenderUsername
	}
	return dialog.Name
}

func textOrPlaceholder(text string) string {
	if text == "" {
		return mediaPlaceholder
	}
	return text
}
