package consumers

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/memstore"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
)

type recordingSyncer struct {
	synced  []*domain.StaffProfile
	removed []string
	schemas []string
	err     error
}

func (r *recordingSyncer) Sync(ctx context.Context, p *domain.StaffProfile) error {
	schema, _ := tenant.TenantSchema(ctx)
	r.schemas = append(r.schemas, schema)
	r.synced = append(r.synced, p)
	return r.err
}

func (r *recordingSyncer) Remove(ctx context.Context, userID string) error {
	r.removed = append(r.removed, userID)
	return r.err
}

func newEvent(t *testing.T, eventType string, data interface{}) *messaging.Event {
	t.Helper()
	evt, err := messaging.NewEvent(eventType, "user-service", "corr-1", data)
	require.NoError(t, err)
	return evt
}

func TestUserEventHandler_Upsert(t *testing.T) {
	syncer := &recordingSyncer{}
	h := NewUserEventHandler(syncer, logger.Nop())
	h.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	evt := newEvent(t, messaging.EventUserCreated, messaging.UserProfileEvent{
		UserID:     "u-1",
		Email:      "pharma@hospital.test",
		FirstName:  "Lea",
		LastName:   "Martin",
		RoleName:   "pharmacist",
		HospitalID: testutil.Ptr("h-1"),
		PharmacyID: testutil.Ptr("ph-1"),
		TenantRef:  messaging.TenantRef{TenantID: "t-1", TenantSlug: "central", TenantSchema: "tenant_central"},
	})

	require.NoError(t, h.HandleEvent(context.Background(), evt))
	require.Len(t, syncer.synced, 1)

	p := syncer.synced[0]
	assert.Equal(t, domain.RolePharmacist, p.Role)
	assert.Equal(t, "ph-1", *p.PharmacyID)
	assert.Nil(t, p.WarehouseID)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), p.UpdatedAt)
	assert.Equal(t, []string{"tenant_central"}, syncer.schemas)
}

func TestUserEventHandler_Rejections(t *testing.T) {
	syncer := &recordingSyncer{}
	h := NewUserEventHandler(syncer, logger.Nop())

	t.Run("missing user id", func(t *testing.T) {
		err := h.HandleEvent(context.Background(), newEvent(t, messaging.EventUserUpdated, messaging.UserProfileEvent{}))
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		evt := &messaging.Event{Type: messaging.EventUserDeleted, Data: []byte(`"not an object"`)}
		assert.Error(t, h.HandleEvent(context.Background(), evt))
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		assert.NoError(t, h.HandleEvent(context.Background(), &messaging.Event{Type: "user.password_reset"}))
	})

	t.Run("sync failure is returned for retry", func(t *testing.T) {
		syncer.err = stderrors.New("db down")
		defer func() { syncer.err = nil }()
		err := h.HandleEvent(context.Background(), newEvent(t, messaging.EventUserCreated, messaging.UserProfileEvent{UserID: "u-2"}))
		assert.ErrorContains(t, err, "db down")
	})

	assert.Empty(t, syncer.removed)
}

func TestUserEventHandler_DirectoryRoundTrip(t *testing.T) {
	store := memstore.New()
	staff := service.NewStaffService(store.Stores().Staff, logger.Nop())
	h := NewUserEventHandler(staff, logger.Nop())
	ctx := context.Background()

	require.NoError(t, h.HandleEvent(ctx, newEvent(t, messaging.EventUserCreated, messaging.UserProfileEvent{
		UserID:      "u-1",
		RoleName:    "store_keeper",
		HospitalID:  testutil.Ptr("h-1"),
		WarehouseID: testutil.Ptr("wh-1"),
	})))

	p, err := staff.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStoreKeeper, p.Role)

	require.NoError(t, h.HandleEvent(ctx, newEvent(t, messaging.EventUserDeleted, messaging.UserDeletedEvent{UserID: "u-1"})))
	_, err = staff.Get(ctx, "u-1")
	assert.Error(t, err)

	// Deleting again is a no-op.
	assert.NoError(t, h.HandleEvent(ctx, newEvent(t, messaging.EventUserDeleted, messaging.UserDeletedEvent{UserID: "u-1"})))
}
