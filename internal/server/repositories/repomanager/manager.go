package repomanager

import (
	"context"
	"database/sql"

	"github.com/mivanovs/telegate/internal/dbx"
	"github.com/mivanovs/telegate/internal/server/repositories/profiles"
	"github.com/mivanovs/telegate/internal/server/repositories/refreshtokens"
	"github.com/mivanovs/telegate/internal/server/repositories/sessions"
	"github.com/mivanovs/telegate/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so a
// service can run several repositories inside one transaction by handing them
// the same *sql.Tx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Profiles(db dbx.DBTX) profiles.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
