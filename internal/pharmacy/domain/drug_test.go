package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

func TestNextAutomaticStatus(t *testing.T) {
	tests := []struct {
		name    string
		current DrugStatus
		total   int
		want    DrugStatus
	}{
		{"available keeps stock", DrugAvailable, 10, DrugAvailable},
		{"available runs out", DrugAvailable, 0, DrugUnavailable},
		{"unavailable restocked", DrugUnavailable, 1, DrugAvailable},
		{"unavailable stays", DrugUnavailable, 0, DrugUnavailable},
		{"phasing out with stock", DrugPhasingOut, 3, DrugPhasingOut},
		{"phasing out drained", DrugPhasingOut, 0, DrugArchived},
		{"archived is terminal for automation", DrugArchived, 100, DrugArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextAutomaticStatus(tt.current, tt.total))
		})
	}
}

func TestCheckAdministrativeTransition(t *testing.T) {
	tests := []struct {
		from, to DrugStatus
		ok       bool
	}{
		{DrugAvailable, DrugPhasingOut, true},
		{DrugUnavailable, DrugPhasingOut, true},
		{DrugArchived, DrugPhasingOut, false},
		{DrugPhasingOut, DrugPhasingOut, false},
		{DrugAvailable, DrugArchived, true},
		{DrugPhasingOut, DrugArchived, true},
		{DrugArchived, DrugArchived, false},
		{DrugArchived, DrugAvailable, true},
		{DrugPhasingOut, DrugAvailable, true},
		{DrugUnavailable, DrugAvailable, true},
		{DrugAvailable, DrugAvailable, false},
		{DrugAvailable, DrugUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckAdministrativeTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errors.ErrInvalidStateTransition))
			}
		})
	}
}

func TestDrugStatus_AcceptsNewPatients(t *testing.T) {
	assert.True(t, DrugAvailable.AcceptsNewPatients())
	assert.True(t, DrugUnavailable.AcceptsNewPatients())
	assert.False(t, DrugPhasingOut.AcceptsNewPatients())
	assert.False(t, DrugArchived.AcceptsNewPatients())
}

func TestDrugChanges_Apply(t *testing.T) {
	d := &Drug{Name: "Metformin", Unit: "tablet", UnitsPerBox: 30}

	assert.False(t, DrugChanges{}.Apply(d))
	assert.False(t, DrugChanges{Name: strp("Metformin")}.Apply(d))

	dose := 60
	changed := DrugChanges{Name: strp("Metformin XR"), Strength: strp("500mg"), MaxMonthlyDose: &dose}.Apply(d)
	assert.True(t, changed)
	assert.Equal(t, "Metformin XR", d.Name)
	assert.Equal(t, "500mg", *d.Strength)
	assert.Equal(t, 60, *d.MaxMonthlyDose)
}
