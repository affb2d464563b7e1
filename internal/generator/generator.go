// Пакет generator — генерация тест-кейсов языковой моделью (cloudwego/eino).
// Формирует промпт по режиму, повторяет неудачные попытки (cenkalti/backoff)
// и рассчитывает стоимость вызова по таблице тарифов.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

// ErrEmptyContent — модель вернула пустой ответ.
var ErrEmptyContent = errors.New("no content returned from model")

// Prometheus-метрики попыток генерации.
var llmAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "test_assistant_llm_attempts_total",
	Help: "Количество попыток обращения к языковой модели по результату.",
}, []string{"provider", "result"})

// ChatModel — часть интерфейса eino BaseChatModel, нужная генератору.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// Options — параметры генератора.
type Options struct {
	// Provider — имя провайдера (для логов и метрик)
	Provider string
	// Model — имя модели (для расчёта стоимости)
	Model string
	// MaxAttempts — максимальное число попыток (минимум 1)
	MaxAttempts int
	// RetryDelay — пауза между попытками
	RetryDelay time.Duration
	// AttemptTimeout — ограничение одной попытки (0 — без ограничения)
	AttemptTimeout time.Duration
	// MaxOutputTokens — лимит ответа, используется при предварительной оценке
	MaxOutputTokens int
}

// Result — результат успешной генерации.
type Result struct {
	Content    string
	TokenUsage model.TokenUsage
	Cost       float64
}

// Generator — генератор тест-кейсов.
type Generator struct {
	chat    ChatModel
	opts    Options
	pricing *Pricing
	logger  *slog.Logger
}

// New создаёт генератор поверх chat-модели.
// pricing == nil — встроенная таблица тарифов.
func New(chat ChatModel, opts Options, pricing *Pricing, logger *slog.Logger) (*Generator, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if pricing == nil {
		var err error
		if pricing, err = DefaultPricing(); err != nil {
			return nil, err
		}
	}
	logger = logger.With(slog.String("component", "generator"))
	if _, ok := pricing.Rate(opts.Model); !ok {
		logger.Warn("Модель отсутствует в таблице тарифов, стоимость будет 0",
			slog.String("model", opts.Model),
		)
	}
	return &Generator{chat: chat, opts: opts, pricing: pricing, logger: logger}, nil
}

// MaxOutputTokens возвращает лимит ответа модели.
func (g *Generator) MaxOutputTokens() int {
	return g.opts.MaxOutputTokens
}

// EstimateCost рассчитывает стоимость по тарифу текущей модели.
// Для модели без тарифа возвращает 0.
func (g *Generator) EstimateCost(promptTokens, completionTokens int) float64 {
	rate, _ := g.pricing.Rate(g.opts.Model)
	return rate.Cost(promptTokens, completionTokens)
}

// Generate генерирует markdown с тест-кейсами по контексту задачи.
// Каждая попытка выполняется заново; после MaxAttempts неудач возвращается последняя ошибка.
func (g *Generator) Generate(ctx context.Context, issueContext, issueKey string, mode model.Mode) (*Result, error) {
	system, err := systemPrompt(mode)
	if err != nil {
		return nil, err
	}
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(userPrompt(issueKey, issueContext)),
	}

	var (
		result  *Result
		attempt int
	)
	operation := func() error {
		attempt++
		g.logger.Info("Вызов языковой модели",
			slog.String("issue_key", issueKey),
			slog.Int("attempt", attempt),
		)

		msg, err := g.call(ctx, messages)
		if err != nil {
			llmAttemptsTotal.WithLabelValues(g.opts.Provider, "error").Inc()
			g.logger.Warn("Попытка генерации не удалась",
				slog.String("issue_key", issueKey),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		llmAttemptsTotal.WithLabelValues(g.opts.Provider, "ok").Inc()
		result = g.buildResult(msg)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.opts.RetryDelay), uint64(g.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		g.logger.Error("Генерация не удалась после всех попыток",
			slog.String("issue_key", issueKey),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	g.logger.Info("Ответ модели получен",
		slog.String("issue_key", issueKey),
		slog.Int("total_tokens", result.TokenUsage.TotalTokens),
		slog.Float64("cost", result.Cost),
	)
	return result, nil
}

// call выполняет одну попытку с ограничением по времени.
func (g *Generator) call(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	if g.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.AttemptTimeout)
		defer cancel()
	}

	msg, err := g.chat.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, ErrEmptyContent
	}
	return msg, nil
}

// buildResult извлекает содержимое, расход токенов и стоимость из ответа.
func (g *Generator) buildResult(msg *schema.Message) *Result {
	var usage model.TokenUsage
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		usage = model.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return &Result{
		Content:    msg.Content,
		TokenUsage: usage,
		Cost:       g.EstimateCost(usage.PromptTokens, usage.CompletionTokens),
	}
}

// String описывает генератор для логов.
func (g *Generator) String() string {
	return fmt.Sprintf("%s/%s", g.opts.Provider, g.opts.Model)
}
