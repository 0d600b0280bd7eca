package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) *time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func strp(s string) *string { return &s }

func TestInventoryRecord_IsExpired(t *testing.T) {
	today := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{"no expiry", nil, false},
		{"expires today", day("2026-03-10"), true},
		{"expired yesterday", day("2026-03-09"), true},
		{"expires tomorrow", day("2026-03-11"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &InventoryRecord{ExpiryDate: tt.expiry, CurrentQuantity: 10}
			assert.Equal(t, tt.want, r.IsExpired(today))
			if tt.want {
				assert.Zero(t, r.EffectiveQuantity(today))
			} else {
				assert.Equal(t, 10, r.EffectiveQuantity(today))
			}
		})
	}
}

func TestInventoryRecord_IsLowStock(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.True(t, (&InventoryRecord{CurrentQuantity: 5, MinimumLevel: 5}).IsLowStock(today), "equal to minimum is low")
	assert.False(t, (&InventoryRecord{CurrentQuantity: 6, MinimumLevel: 5}).IsLowStock(today))
	assert.True(t, (&InventoryRecord{CurrentQuantity: 0, MinimumLevel: 0}).IsLowStock(today))
	assert.True(t, (&InventoryRecord{CurrentQuantity: 50, MinimumLevel: 5, ExpiryDate: day("2026-03-01")}).IsLowStock(today),
		"expired stock counts as zero")
}

func TestStockKey_Matches(t *testing.T) {
	loc := AtPharmacy("p1")
	rec := &InventoryRecord{DrugID: "d1", Location: loc, BatchNumber: nil, ExpiryDate: day("2026-06-30")}

	assert.True(t, StockKey{DrugID: "d1", Location: loc, BatchNumber: strp(""), ExpiryDate: day("2026-06-30")}.Matches(rec),
		"empty batch equals no batch")
	assert.False(t, StockKey{DrugID: "d1", Location: loc, BatchNumber: strp("B1"), ExpiryDate: day("2026-06-30")}.Matches(rec))
	assert.False(t, StockKey{DrugID: "d1", Location: loc, ExpiryDate: day("2026-07-01")}.Matches(rec))
	assert.False(t, StockKey{DrugID: "d1", Location: AtWarehouse("p1"), ExpiryDate: day("2026-06-30")}.Matches(rec))
	assert.False(t, StockKey{DrugID: "d1", Location: loc}.Matches(rec), "undated never matches dated")
}

func TestStockKey_Normalized(t *testing.T) {
	ts := time.Date(2026, 6, 30, 18, 45, 0, 0, time.UTC)
	k := StockKey{DrugID: "d1", Location: AtPharmacy("p1"), BatchNumber: strp(""), ExpiryDate: &ts}.Normalized()

	assert.Nil(t, k.BatchNumber)
	require.NotNil(t, k.ExpiryDate)
	assert.Equal(t, *day("2026-06-30"), *k.ExpiryDate)
}

func TestStockKey_Validate(t *testing.T) {
	assert.Error(t, StockKey{Location: AtPharmacy("p1")}.Validate())
	assert.Error(t, StockKey{DrugID: "d1", Location: Location{Type: "shelf", ID: "x"}}.Validate())
	assert.Error(t, StockKey{DrugID: "d1", Location: Location{Type: LocationPharmacy}}.Validate())
	assert.NoError(t, StockKey{DrugID: "d1", Location: AtSupplier("s1")}.Validate())
}

func TestPlanFEFO(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []*InventoryRecord{
		{ID: "undated", CurrentQuantity: 100, CreatedAt: created},
		{ID: "late", CurrentQuantity: 10, ExpiryDate: day("2026-12-31"), CreatedAt: created},
		{ID: "expired", CurrentQuantity: 40, ExpiryDate: day("2026-03-10"), CreatedAt: created},
		{ID: "early", CurrentQuantity: 5, ExpiryDate: day("2026-04-01"), CreatedAt: created},
		{ID: "empty", CurrentQuantity: 0, ExpiryDate: day("2026-03-20"), CreatedAt: created},
	}

	t.Run("draws earliest expiry first", func(t *testing.T) {
		plan, usable := PlanFEFO(records, 12, today)
		assert.Equal(t, 115, usable)
		require.Len(t, plan, 2)
		assert.Equal(t, "early", plan[0].InventoryID)
		assert.Equal(t, 5, plan[0].Quantity)
		assert.Equal(t, "late", plan[1].InventoryID)
		assert.Equal(t, 7, plan[1].Quantity)
		assert.Equal(t, 12, plan.Total())
	})

	t.Run("undated batches go last", func(t *testing.T) {
		plan, _ := PlanFEFO(records, 20, today)
		require.Len(t, plan, 3)
		assert.Equal(t, "undated", plan[2].InventoryID)
		assert.Equal(t, 5, plan[2].Quantity)
	})

	t.Run("short plan when stock runs out", func(t *testing.T) {
		plan, usable := PlanFEFO(records, 500, today)
		assert.Equal(t, 115, usable)
		assert.Equal(t, 115, plan.Total())
	})

	t.Run("zero quantity yields empty plan", func(t *testing.T) {
		plan, _ := PlanFEFO(records, 0, today)
		assert.Empty(t, plan)
	})
}

func TestAllocations_Distribute(t *testing.T) {
	src := Allocations{
		{InventoryID: "a", BatchNumber: strp("B1"), ExpiryDate: day("2026-04-01"), Quantity: 5},
		{InventoryID: "b", BatchNumber: strp("B2"), ExpiryDate: day("2026-12-31"), Quantity: 7},
	}

	full := src.Distribute(12)
	require.Len(t, full, 2)
	assert.Equal(t, 5, full[0].Quantity)
	assert.Equal(t, "B2", *full[1].BatchNumber)
	assert.Empty(t, full[0].InventoryID, "receipt lands in a different record")

	short := src.Distribute(8)
	require.Len(t, short, 2)
	assert.Equal(t, 5, short[0].Quantity)
	assert.Equal(t, 3, short[1].Quantity)

	assert.Empty(t, src.Distribute(0))
}

func TestAllocations_ValueScan(t *testing.T) {
	src := Allocations{{InventoryID: "a", BatchNumber: strp("B1"), Quantity: 5}}
	v, err := src.Value()
	require.NoError(t, err)

	var back Allocations
	require.NoError(t, back.Scan([]byte(v.(string))))
	assert.Equal(t, src, back)

	empty, err := Allocations(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	assert.Error(t, back.Scan(42))
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(time.Date(2026, 12, 17, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), end)
}
