package generator

import (
	"embed"
	"fmt"
	"strings"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

//go:embed prompts/*.md
var promptsFS embed.FS

// systemPrompt возвращает системный промпт для режима генерации.
func systemPrompt(mode model.Mode) (string, error) {
	name := "prompts/manual.md"
	if mode == model.ModeAuto {
		name = "prompts/auto.md"
	}
	data, err := promptsFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("чтение промпта %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// userPrompt формирует сообщение пользователя с контекстом задачи.
func userPrompt(issueKey, issueContext string) string {
	return fmt.Sprintf("\n\nJIRA issue: %s\n\n%s", issueKey, issueContext)
}
