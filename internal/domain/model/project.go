package model

import (
	"regexp"
	"strings"
	"time"
)

// projectKeyPattern — ключ проекта: буква, затем буквы/цифры, дефис и номер задачи.
var projectKeyPattern = regexp.MustCompile(`(?i)^([A-Z][A-Z0-9]+)-\d+`)

// ExtractProjectKey извлекает ключ проекта из ключа задачи (SDETPRO-123 → SDETPRO).
// Возвращает пустую строку, если ключ не соответствует шаблону.
func ExtractProjectKey(issueKey string) string {
	m := projectKeyPattern.FindStringSubmatch(strings.TrimSpace(issueKey))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// Project — агрегат учёта генераций по проекту трекера.
type Project struct {
	// ID — UUID записи
	ID string
	// ProjectKey — уникальный ключ в верхнем регистре
	ProjectKey string
	// CreatedBy — email пользователя, впервые запросившего генерацию
	CreatedBy        string
	FirstGeneratedAt time.Time
	LastGeneratedAt  time.Time
	// TotalGenerations — пересчитывается по количеству генераций проекта
	TotalGenerations int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
