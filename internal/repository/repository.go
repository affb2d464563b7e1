// Пакет repository — слой доступа к данным.
// Интерфейсы хранилищ и их реализация для PostgreSQL (чистый SQL через pgx).
// Альтернативная встраиваемая реализация — пакет repository/sqlite.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности или устаревшая версия записи.
	ErrConflict = errors.New("конфликт — запись уже существует или изменена")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций
// (Begin внутри pgx.Tx открывает savepoint).
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// --- JSON-представление вложенных коллекций генерации ---

// versionJSON — снимок версии в JSON-колонке.
type versionJSON struct {
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
	Notes     *string   `json:"notes,omitempty"`
}

// jiraTicketJSON — ссылка на задачу трекера в JSON-колонке.
type jiraTicketJSON struct {
	IssueURL  string    `json:"issueUrl"`
	IssueType string    `json:"issueType"`
	CreatedAt time.Time `json:"createdAt"`
}

// EncodeVersions сериализует историю версий для хранения.
func EncodeVersions(vs []model.Version) ([]byte, error) {
	out := make([]versionJSON, len(vs))
	for i, v := range vs {
		out[i] = versionJSON{
			Version:   v.Version,
			Content:   v.Content,
			UpdatedAt: v.UpdatedAt.UTC(),
			UpdatedBy: v.UpdatedBy,
			Notes:     v.Notes,
		}
	}
	return json.Marshal(out)
}

// DecodeVersions восстанавливает историю версий из хранилища.
func DecodeVersions(data []byte) ([]model.Version, error) {
	if len(data) == 0 {
		return []model.Version{}, nil
	}
	var in []versionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("разбор versions: %w", err)
	}
	out := make([]model.Version, len(in))
	for i, v := range in {
		out[i] = model.Version{
			Version:   v.Version,
			Content:   v.Content,
			UpdatedAt: v.UpdatedAt,
			UpdatedBy: v.UpdatedBy,
			Notes:     v.Notes,
		}
	}
	return out, nil
}

// EncodeJiraTickets сериализует ссылки на задачи трекера.
func EncodeJiraTickets(ts []model.JiraTicket) ([]byte, error) {
	out := make([]jiraTicketJSON, len(ts))
	for i, t := range ts {
		out[i] = jiraTicketJSON{IssueURL: t.IssueURL, IssueType: t.IssueType, CreatedAt: t.CreatedAt.UTC()}
	}
	return json.Marshal(out)
}

// DecodeJiraTickets восстанавливает ссылки на задачи трекера.
func DecodeJiraTickets(data []byte) ([]model.JiraTicket, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in []jiraTicketJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("разбор jira_tickets: %w", err)
	}
	out := make([]model.JiraTicket, len(in))
	for i, t := range in {
		out[i] = model.JiraTicket{IssueURL: t.IssueURL, IssueType: t.IssueType, CreatedAt: t.CreatedAt}
	}
	return out, nil
}
