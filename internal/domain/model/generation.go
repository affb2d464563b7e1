// Пакет model — доменные модели Test Assistant.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status — состояние генерации.
type Status string

const (
	// StatusInProgress — запись создана, внешние вызовы ещё выполняются
	StatusInProgress Status = "in_progress"
	// StatusCompleted — тест-кейсы сгенерированы (конечное состояние)
	StatusCompleted Status = "completed"
	// StatusFailed — генерация завершилась ошибкой (конечное состояние)
	StatusFailed Status = "failed"
)

// Mode — режим генерации тест-кейсов.
type Mode string

const (
	// ModeManual — тест-кейсы для ручного тестирования
	ModeManual Mode = "manual"
	// ModeAuto — тест-кейсы, ориентированные на автоматизацию
	ModeAuto Mode = "auto"
)

// ParseMode разбирает режим генерации. Пустая строка — manual.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeManual:
		return ModeManual, nil
	case ModeAuto:
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("недопустимый режим %q, допустимые: manual, auto", s)
	}
}

// validTransitions — матрица допустимых переходов статуса.
// completed и failed — конечные состояния.
var validTransitions = map[Status]map[Status]bool{
	StatusInProgress: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// ErrInvalidTransition — недопустимый переход статуса.
var ErrInvalidTransition = errors.New("недопустимый переход статуса")

// ValidateTransition проверяет переход from → to.
func ValidateTransition(from, to Status) error {
	if !validTransitions[from][to] {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal сообщает, является ли статус конечным.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TokenUsage — расход токенов языковой модели.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// MarkdownResult — сгенерированный артефакт.
type MarkdownResult struct {
	Content  string
	Filename string
}

// Version — неизменяемый снимок содержимого, действовавшего до правки.
type Version struct {
	Version   int
	Content   string
	UpdatedAt time.Time
	UpdatedBy string
	Notes     *string
}

// JiraTicket — ссылка на задачу трекера, из которой построена генерация.
type JiraTicket struct {
	IssueURL  string
	IssueType string
	CreatedAt time.Time
}

// Generation — одна попытка сгенерировать тест-кейсы для задачи.
type Generation struct {
	// ID — UUID записи
	ID string
	// IssueKey — ключ задачи трекера (например, SDETPRO-123)
	IssueKey string
	// OwnerEmail — email инициатора; не меняется после создания
	OwnerEmail string
	// ProjectID — слабая ссылка на агрегат проекта (nil, если связь не установлена)
	ProjectID *string
	// Mode — manual или auto
	Mode Mode
	// Status — in_progress, completed, failed
	Status Status

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	// GenerationTimeSeconds — длительность генерации, округлённая до сотых
	GenerationTimeSeconds *float64
	// Cost — стоимость вызова модели в USD (только при успехе)
	Cost *float64
	// TokenUsage — расход токенов (только при успехе)
	TokenUsage *TokenUsage
	// Result — артефакт; заполнен тогда и только тогда, когда Status == completed
	Result *MarkdownResult
	// JiraTickets — задачи трекера, использованные при генерации
	JiraTickets []JiraTicket
	// Error — причина неудачи (только при Status == failed)
	Error string

	Published   bool
	PublishedAt *time.Time
	PublishedBy *string

	// Versions — история вытесненного содержимого (только добавление)
	Versions []Version
	// CurrentVersion — счётчик версий, начинается с 1
	CurrentVersion int
}

// NewGeneration создаёт запись в состоянии in_progress.
func NewGeneration(id, issueKey, ownerEmail string, mode Mode, projectID *string, now time.Time) *Generation {
	return &Generation{
		ID:             id,
		IssueKey:       issueKey,
		OwnerEmail:     ownerEmail,
		ProjectID:      projectID,
		Mode:           mode,
		Status:         StatusInProgress,
		CreatedAt:      now,
		StartedAt:      now,
		UpdatedAt:      now,
		Versions:       []Version{},
		CurrentVersion: 1,
	}
}

// Filename возвращает имя файла артефакта: {issueKey}_testcases_{id}.md.
func Filename(issueKey, id string) string {
	return fmt.Sprintf("%s_testcases_%s.md", issueKey, id)
}

// RoundSeconds округляет длительность до сотых секунды.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// Fail переводит запись в failed с причиной reason.
func (g *Generation) Fail(reason string, now time.Time) error {
	if err := ValidateTransition(g.Status, StatusFailed); err != nil {
		return err
	}
	g.Status = StatusFailed
	g.Error = reason
	g.CompletedAt = &now
	g.UpdatedAt = now
	return nil
}

// Complete переводит запись в completed с результатом генерации.
func (g *Generation) Complete(content string, usage TokenUsage, cost float64, now time.Time) error {
	if err := ValidateTransition(g.Status, StatusCompleted); err != nil {
		return err
	}
	elapsed := RoundSeconds(now.Sub(g.StartedAt))

	g.Status = StatusCompleted
	g.CompletedAt = &now
	g.UpdatedAt = now
	g.GenerationTimeSeconds = &elapsed
	g.Cost = &cost
	g.TokenUsage = &usage
	g.Result = &MarkdownResult{
		Content:  content,
		Filename: Filename(g.IssueKey, g.ID),
	}
	g.CurrentVersion = 1
	g.Versions = []Version{}
	return nil
}

// Content возвращает текущее содержимое артефакта ("" при отсутствии).
func (g *Generation) Content() string {
	if g.Result == nil {
		return ""
	}
	return g.Result.Content
}

// hasVersion сообщает, есть ли в истории снимок с номером v.
func (g *Generation) hasVersion(v int) bool {
	for _, ver := range g.Versions {
		if ver.Version == v {
			return true
		}
	}
	return false
}

// ApplyEdit заменяет содержимое по правилу «снимок перед перезаписью».
// Если старое содержимое непустое и отличается от нового, оно сохраняется
// в Versions с текущим номером версии (если такого снимка ещё нет),
// а CurrentVersion увеличивается. Возвращает true, если счётчик изменился.
// Вызывающая сторона проверяет статус и права заранее.
func (g *Generation) ApplyEdit(content, editor string, notes *string, now time.Time) bool {
	if g.Result == nil {
		g.Result = &MarkdownResult{Filename: Filename(g.IssueKey, g.ID)}
	}
	if g.CurrentVersion < 1 {
		g.CurrentVersion = 1
	}

	old := g.Result.Content
	changed := old != "" && old != content
	if changed {
		if !g.hasVersion(g.CurrentVersion) {
			g.Versions = append(g.Versions, Version{
				Version:   g.CurrentVersion,
				Content:   old,
				UpdatedAt: now,
				UpdatedBy: editor,
				Notes:     notes,
			})
		}
		g.CurrentVersion++
	}

	g.Result.Content = content
	g.UpdatedAt = now
	return changed
}

// SetPublished публикует или снимает публикацию.
// При снятии PublishedAt и PublishedBy очищаются.
func (g *Generation) SetPublished(published bool, by string, now time.Time) {
	g.Published = published
	if published {
		g.PublishedAt = &now
		g.PublishedBy = &by
	} else {
		g.PublishedAt = nil
		g.PublishedBy = nil
	}
	g.UpdatedAt = now
}

// LatestVersion возвращает последний снимок истории или nil.
func (g *Generation) LatestVersion() *Version {
	if len(g.Versions) == 0 {
		return nil
	}
	return &g.Versions[len(g.Versions)-1]
}

// EnsureHeading гарантирует, что содержимое начинается с заголовка markdown.
// Иначе добавляет заголовок «# Test Cases for {issueKey}: {summary}».
func EnsureHeading(content, issueKey, summary string) string {
	if strings.HasPrefix(content, "#") {
		return content
	}
	if strings.TrimSpace(summary) == "" {
		summary = "Untitled"
	}
	return fmt.Sprintf("# Test Cases for %s: %s\n\n%s", issueKey, summary, content)
}
