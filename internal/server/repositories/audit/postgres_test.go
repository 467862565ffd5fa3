package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

const (
	insertQ = `(?s)^INSERT\s+INTO\s+audit_log\s*\(identity_id,\s*action_type,\s*resource_id,\s*ip_address,\s*user_agent,\s*created_at\)\s*VALUES\s*\(\$1,.*\$6\)\s*RETURNING\s+id$`
	recentQ = `(?s)^SELECT\s+id,.*FROM\s+audit_log\s+ORDER\s+BY\s+created_at\s+DESC,\s*id\s+DESC\s+LIMIT\s+\$1$`
	byIDQ   = `(?s)^SELECT\s+id,.*FROM\s+audit_log\s+WHERE\s+identity_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC,\s*id\s+DESC\s+LIMIT\s+\$2$`
)

var auditCols = []string{"id", "identity_id", "action_type", "resource_id", "ip_address", "user_agent", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	uid := "u1"
	ip := "10.0.0.1"
	at := time.Now().UTC()
	mock.ExpectQuery(insertQ).
		WithArgs("u1", "token_issued", nil, "10.0.0.1", nil, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Insert(context.Background(), &models.AuditEntry{
		IdentityID: &uid, Action: models.ActionTokenIssued, IPAddress: &ip, CreatedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestInsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(insertQ).WillReturnError(errors.New("disk full"))

	_, err := repo.Insert(context.Background(), &models.AuditEntry{Action: models.ActionTokenRevoked})
	require.ErrorContains(t, err, "disk full")
}

func TestRecent(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(auditCols).
		AddRow(int64(2), "u1", "token_refreshed", nil, "1.2.3.4", "curl", now).
		AddRow(int64(1), nil, "tokens_purged", nil, nil, nil, now.Add(-time.Minute))
	mock.ExpectQuery(recentQ).WithArgs(50).WillReturnRows(rows)

	got, err := repo.Recent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ActionTokenRefreshed, got[0].Action)
	assert.Equal(t, "curl", *got[0].UserAgent)
	assert.Nil(t, got[1].IdentityID)
}

func TestForIdentity(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(auditCols).
		AddRow(int64(5), "u1", "device_verified", "d1", nil, nil, time.Now())
	mock.ExpectQuery(byIDQ).WithArgs("u1", 100).WillReturnRows(rows)

	got, err := repo.ForIdentity(context.Background(), "u1", 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", *got[0].ResourceID)
}
