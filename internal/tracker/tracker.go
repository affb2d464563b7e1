// Пакет tracker — клиент трекера задач (Jira REST API v3).
// Получает заголовок, описание, тип и вложения задачи; классифицирует ошибки
// на «нет доступа», «не найдено» и прочие отказы трекера.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки трекера.
var (
	// ErrAuth — трекер отклонил учётные данные (authentication failed / forbidden).
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound — задача не найдена.
	ErrNotFound = errors.New("issue not found")
	// ErrUpstream — прочие ошибки трекера (сеть, 5xx, некорректный ответ).
	ErrUpstream = errors.New("issue tracker error")
)

// Prometheus-метрики обращений к трекеру.
var trackerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "test_assistant_tracker_requests_total",
	Help: "Количество обращений к трекеру задач по результату.",
}, []string{"result"})

// Attachment — вложение задачи.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// IsImage сообщает, является ли вложение изображением.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// Issue — задача трекера в объёме, нужном для генерации.
type Issue struct {
	// Key — ключ задачи (SDETPRO-123)
	Key string
	// Summary — заголовок
	Summary string
	// Description — описание, приведённое к простому тексту
	Description string
	// IssueType — тип задачи (Story, Bug, ...)
	IssueType   string
	Attachments []Attachment
	// URL — ссылка на задачу в веб-интерфейсе трекера
	URL string
}

// ImageAttachments возвращает количество вложений-изображений.
func (i *Issue) ImageAttachments() int {
	n := 0
	for _, a := range i.Attachments {
		if a.IsImage() {
			n++
		}
	}
	return n
}

// Fetcher — источник задач трекера.
type Fetcher interface {
	FetchIssue(ctx context.Context, issueKey string) (*Issue, error)
}

// Classify сопоставляет текст ошибки трекера одному из классов:
// ErrAuth («authentication», «forbidden»), ErrNotFound («not found»), иначе ErrUpstream.
func Classify(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "forbidden"):
		return ErrAuth
	case strings.Contains(lower, "not found"):
		return ErrNotFound
	default:
		return ErrUpstream
	}
}

// ClassOf возвращает класс ошибки: по цепочке обёрток, иначе по тексту.
func ClassOf(err error) error {
	for _, class := range []error{ErrAuth, ErrNotFound, ErrUpstream} {
		if errors.Is(err, class) {
			return class
		}
	}
	return Classify(err.Error())
}

// resultLabel — значение метки result для метрики.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch ClassOf(err) {
	case ErrAuth:
		return "auth"
	case ErrNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// upstreamError оборачивает ошибку в класс с сообщением трекера.
func upstreamError(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}
