package access

import (
	"errors"
	"testing"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

const (
	owner    = "owner@example.com"
	stranger = "other@example.com"
)

func gen(status model.Status, published bool) *model.Generation {
	return &model.Generation{ID: "g1", OwnerEmail: owner, Status: status, Published: published}
}

func TestCanView(t *testing.T) {
	tests := []struct {
		name  string
		g     *model.Generation
		email string
		want  bool
	}{
		{"владелец, не опубликовано", gen(model.StatusCompleted, false), owner, true},
		{"владелец, failed", gen(model.StatusFailed, false), owner, true},
		{"владелец, in_progress", gen(model.StatusInProgress, false), owner, true},
		{"чужой, опубликовано и завершено", gen(model.StatusCompleted, true), stranger, true},
		{"чужой, не опубликовано", gen(model.StatusCompleted, false), stranger, false},
		{"чужой, опубликовано но failed", gen(model.StatusFailed, true), stranger, false},
		{"пустой email", gen(model.StatusCompleted, false), "", false},
		{"nil запись", nil, owner, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanView(tt.g, tt.email); got != tt.want {
				t.Errorf("CanView() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestCanMutate(t *testing.T) {
	if !CanMutate(gen(model.StatusCompleted, false), owner) {
		t.Error("владелец должен иметь право изменения")
	}
	if CanMutate(gen(model.StatusCompleted, true), stranger) {
		t.Error("публикация не даёт права изменения чужому пользователю")
	}
}

func TestCheckMutable(t *testing.T) {
	tests := []struct {
		name  string
		g     *model.Generation
		email string
		want  error
	}{
		{"владелец, completed", gen(model.StatusCompleted, false), owner, nil},
		{"владелец, failed", gen(model.StatusFailed, false), owner, ErrNotCompleted},
		{"владелец, in_progress", gen(model.StatusInProgress, false), owner, ErrNotCompleted},
		{"чужой, failed — сначала права", gen(model.StatusFailed, false), stranger, ErrDenied},
		{"чужой, completed", gen(model.StatusCompleted, true), stranger, ErrDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMutable(tt.g, tt.email)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckMutable() = %v, хотели %v", err, tt.want)
			}
		})
	}
}
