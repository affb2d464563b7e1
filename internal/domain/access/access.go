// Пакет access — политика доступа к генерациям.
// Правила:
//   - просмотр: владелец ИЛИ (опубликовано И завершено);
//   - изменение (правка, публикация): только владелец и только для completed.
package access

import (
	"errors"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

var (
	// ErrDenied — субъект не имеет прав на операцию.
	ErrDenied = errors.New("доступ запрещён")
	// ErrNotCompleted — операция допустима только для завершённой генерации.
	ErrNotCompleted = errors.New("генерация не завершена")
)

// CanView сообщает, может ли email просматривать генерацию.
func CanView(g *model.Generation, email string) bool {
	if g == nil {
		return false
	}
	return IsOwner(g, email) || (g.Published && g.Status == model.StatusCompleted)
}

// CanMutate сообщает, может ли email изменять генерацию.
func CanMutate(g *model.Generation, email string) bool {
	return IsOwner(g, email)
}

// IsOwner сообщает, является ли email владельцем генерации.
func IsOwner(g *model.Generation, email string) bool {
	return g != nil && email != "" && g.OwnerEmail == email
}

// CheckMutable проверяет право на изменение и статус completed.
// Порядок проверок: сначала права, затем статус.
func CheckMutable(g *model.Generation, email string) error {
	if !CanMutate(g, email) {
		return ErrDenied
	}
	if g.Status != model.StatusCompleted {
		return ErrNotCompleted
	}
	return nil
}
