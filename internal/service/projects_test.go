package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectRegistry_FindOrCreate(t *testing.T) {
	projects := newMemProjects()
	registry := NewProjectRegistry(projects, testLogger())
	ctx := context.Background()

	p, err := registry.FindOrCreate(ctx, "sdetpro", owner)
	require.NoError(t, err)
	assert.Equal(t, "SDETPRO", p.ProjectKey)
	assert.Equal(t, owner, p.CreatedBy)
	assert.Zero(t, p.TotalGenerations)
	assert.Equal(t, p.FirstGeneratedAt, p.LastGeneratedAt)

	again, err := registry.FindOrCreate(ctx, "SDETPRO", stranger)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, owner, again.CreatedBy, "создатель проекта не меняется")
	assert.False(t, again.LastGeneratedAt.Before(p.LastGeneratedAt))

	_, err = registry.FindOrCreate(ctx, " ", owner)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProjectRegistry_FindOrCreateRace(t *testing.T) {
	projects := newMemProjects()
	projects.conflictOnce = true
	registry := NewProjectRegistry(projects, testLogger())

	p, err := registry.FindOrCreate(context.Background(), "QA", owner)
	require.NoError(t, err)
	assert.Equal(t, "winner-QA", p.ID)
}

func TestProjectRegistry_RefreshTotalsMissing(t *testing.T) {
	registry := NewProjectRegistry(newMemProjects(), testLogger())
	err := registry.RefreshTotals(context.Background(), "missing")
	require.Error(t, err)
}

func TestProjectRegistry_FindOrCreateStoreError(t *testing.T) {
	projects := newMemProjects()
	projects.failGet = errors.New("connection refused")
	registry := NewProjectRegistry(projects, testLogger())

	_, err := registry.FindOrCreate(context.Background(), "QA", owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"по умолчанию", 0, 0, DefaultPageLimit, 0, false},
		{"явные значения", 50, 10, 50, 10, false},
		{"максимум", MaxPageLimit, 0, MaxPageLimit, 0, false},
		{"больше максимума", MaxPageLimit + 1, 0, 0, 0, true},
		{"отрицательный limit", -1, 0, 0, 0, true},
		{"отрицательный offset", 10, -5, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, err := normalizePage(tt.limit, tt.offset)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
