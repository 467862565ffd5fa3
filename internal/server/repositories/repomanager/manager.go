package repomanager

import (
	"context"
	"database/sql"

	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/audit"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/backupcodes"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/devices"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/identities"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/refreshtokens"
)

// RepositoryManager vends repositories bound to a storage handle, either the
// pool or an open transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Identities(db dbx.DBTX) identities.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Devices(db dbx.DBTX) devices.Repository
	BackupCodes(db dbx.DBTX) backupcodes.Repository
	Audit(db dbx.DBTX) audit.Repository
}
