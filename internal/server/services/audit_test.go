package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vonjiaina/pharmauth/internal/server/models"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultAuditLimit, clampLimit(0))
	assert.Equal(t, DefaultAuditLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxAuditLimit, clampLimit(10_000))
}

func TestClientFrom_Empty(t *testing.T) {
	assert.Equal(t, ClientInfo{}, ClientFrom(context.Background()))
}

func TestRecord_StampsUTCMicroseconds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clock.Advance(1234567) // ns
	require.NoError(t, h.audit.Record(ctx, AuditEvent{Action: models.ActionTokensPurged}))

	got, err := h.audit.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].IdentityID)
	assert.Nil(t, got[0].IPAddress)
	assert.Equal(t, 0, got[0].CreatedAt.Nanosecond()%1000)
	assert.Equal(t, "UTC", got[0].CreatedAt.Location().String())
}
