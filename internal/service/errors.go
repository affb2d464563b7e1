// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — ресурс существует, но недоступен запрашивающему.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrNotCompleted — изменение генерации, которая не завершена успешно.
	ErrNotCompleted = errors.New("генерация не завершена")
	// ErrNotReady — результат генерации ещё недоступен для скачивания.
	ErrNotReady = errors.New("генерация ещё не завершена")
	// ErrConflict — дубликат ресурса или устаревшая версия записи.
	ErrConflict = errors.New("конфликт — ресурс уже существует или изменён")
	// ErrUnauthorized — неверные учётные данные или токен.
	ErrUnauthorized = errors.New("не авторизован")
	// ErrUpstreamNotFound — задача отсутствует в трекере.
	ErrUpstreamNotFound = errors.New("задача не найдена в трекере")
	// ErrUpstreamAuth — трекер отклонил учётные данные сервиса.
	ErrUpstreamAuth = errors.New("трекер отклонил учётные данные")
	// ErrUpstream — прочие ошибки трекера.
	ErrUpstream = errors.New("ошибка трекера задач")
	// ErrGenerationFailed — модель не вернула результат после всех попыток.
	ErrGenerationFailed = errors.New("генерация не удалась")
)
