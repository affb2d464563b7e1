package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newCompleted(t *testing.T, content string) *Generation {
	t.Helper()
	g := NewGeneration("gen-1", "SDETPRO-123", "owner@example.com", ModeManual, nil, testNow)
	if err := g.Complete(content, TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, 0.01, testNow.Add(1234*time.Millisecond)); err != nil {
		t.Fatalf("Complete() вернул ошибку: %v", err)
	}
	return g
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusFailed, StatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("ожидался допустимый переход, ошибка: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ожидалась ErrInvalidTransition, получено: %v", err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeManual, false},
		{"manual", ModeManual, false},
		{"AUTO", ModeAuto, false},
		{"semi", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) ошибка = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, хотели %q", tt.in, got, tt.want)
		}
	}
}

func TestGeneration_Complete(t *testing.T) {
	g := newCompleted(t, "# Cases")

	if g.Status != StatusCompleted {
		t.Errorf("Status = %q, ожидается completed", g.Status)
	}
	if g.Result == nil || g.Result.Filename != "SDETPRO-123_testcases_gen-1.md" {
		t.Errorf("Result = %+v, ожидается имя файла SDETPRO-123_testcases_gen-1.md", g.Result)
	}
	if g.GenerationTimeSeconds == nil || *g.GenerationTimeSeconds != 1.23 {
		t.Errorf("GenerationTimeSeconds = %v, ожидается 1.23", g.GenerationTimeSeconds)
	}
	if g.CurrentVersion != 1 || len(g.Versions) != 0 {
		t.Errorf("CurrentVersion = %d, versions = %d, ожидается 1 и 0", g.CurrentVersion, len(g.Versions))
	}
	if err := g.Fail("late", testNow); err == nil {
		t.Error("Fail() после Complete() должен вернуть ошибку")
	}
}

func TestGeneration_Fail(t *testing.T) {
	g := NewGeneration("gen-2", "ABC-1", "owner@example.com", ModeAuto, nil, testNow)
	if err := g.Fail("issue not found", testNow); err != nil {
		t.Fatalf("Fail() вернул ошибку: %v", err)
	}
	if g.Status != StatusFailed || g.Error != "issue not found" || g.CompletedAt == nil {
		t.Errorf("неожиданное состояние после Fail(): %+v", g)
	}
	if g.Result != nil {
		t.Error("Result должен быть nil у failed записи")
	}
}

func TestGeneration_ApplyEdit(t *testing.T) {
	t.Run("одинаковое содержимое не создаёт версию", func(t *testing.T) {
		g := newCompleted(t, "# A")
		for i := 0; i < 3; i++ {
			if g.ApplyEdit("# A", "owner@example.com", nil, testNow) {
				t.Fatal("ApplyEdit() сообщил об изменении для одинакового содержимого")
			}
		}
		if g.CurrentVersion != 1 || len(g.Versions) != 0 {
			t.Errorf("CurrentVersion = %d, versions = %d, ожидается 1 и 0", g.CurrentVersion, len(g.Versions))
		}
	})

	t.Run("снимок перед перезаписью", func(t *testing.T) {
		g := newCompleted(t, "# A")
		g.ApplyEdit("# B", "editor@example.com", nil, testNow)

		if g.CurrentVersion != 2 {
			t.Errorf("CurrentVersion = %d, ожидается 2", g.CurrentVersion)
		}
		if len(g.Versions) != 1 || g.Versions[0].Version != 1 || g.Versions[0].Content != "# A" {
			t.Fatalf("Versions = %+v, ожидается одна версия 1 с содержимым '# A'", g.Versions)
		}
		if g.Versions[0].UpdatedBy != "editor@example.com" {
			t.Errorf("UpdatedBy = %q, ожидается editor@example.com", g.Versions[0].UpdatedBy)
		}
		if g.Content() != "# B" {
			t.Errorf("Content() = %q, ожидается '# B'", g.Content())
		}

		g.ApplyEdit("# C", "editor@example.com", nil, testNow)
		if g.CurrentVersion != 3 || len(g.Versions) != 2 || g.Versions[1].Content != "# B" {
			t.Errorf("после второй правки: version=%d, versions=%+v", g.CurrentVersion, g.Versions)
		}
	})

	t.Run("существующий снимок не дублируется", func(t *testing.T) {
		g := newCompleted(t, "# A")
		g.Versions = append(g.Versions, Version{Version: 1, Content: "# old"})
		g.ApplyEdit("# B", "owner@example.com", nil, testNow)

		if len(g.Versions) != 1 {
			t.Errorf("len(Versions) = %d, ожидается 1", len(g.Versions))
		}
		if g.CurrentVersion != 2 {
			t.Errorf("CurrentVersion = %d, ожидается 2", g.CurrentVersion)
		}
	})
}

func TestGeneration_SetPublished(t *testing.T) {
	g := newCompleted(t, "# A")

	g.SetPublished(true, "owner@example.com", testNow)
	if !g.Published || g.PublishedAt == nil || g.PublishedBy == nil || *g.PublishedBy != "owner@example.com" {
		t.Fatalf("после публикации: %+v", g)
	}

	g.SetPublished(false, "owner@example.com", testNow)
	if g.Published || g.PublishedAt != nil || g.PublishedBy != nil {
		t.Errorf("после снятия публикации поля должны быть очищены: published=%v at=%v by=%v",
			g.Published, g.PublishedAt, g.PublishedBy)
	}
}

func TestEnsureHeading(t *testing.T) {
	if got := EnsureHeading("# Ready", "A-1", "Login"); got != "# Ready" {
		t.Errorf("EnsureHeading() изменил содержимое с заголовком: %q", got)
	}

	got := EnsureHeading("- case", "A-1", "Login")
	if !strings.HasPrefix(got, "# Test Cases for A-1: Login\n\n") {
		t.Errorf("EnsureHeading() = %q, ожидается синтезированный заголовок", got)
	}

	got = EnsureHeading("- case", "A-1", "  ")
	if !strings.HasPrefix(got, "# Test Cases for A-1: Untitled") {
		t.Errorf("EnsureHeading() = %q, ожидается Untitled", got)
	}
}

func TestExtractProjectKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SDETPRO-123", "SDETPRO"},
		{"sdetpro-456", "SDETPRO"},
		{"AB1-7", "AB1"},
		{"A-1", ""},
		{"1AB-2", ""},
		{"SDETPRO", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractProjectKey(tt.in); got != tt.want {
			t.Errorf("ExtractProjectKey(%q) = %q, хотели %q", tt.in, got, tt.want)
		}
	}
}
