package tracker

import (
	"strings"

	"github.com/tidwall/gjson"
)

// blockNodes — узлы ADF, после которых начинается новая строка.
var blockNodes = map[string]bool{
	"paragraph":   true,
	"heading":     true,
	"blockquote":  true,
	"codeBlock":   true,
	"listItem":    true,
	"rule":        true,
	"tableRow":    true,
	"panel":       true,
	"mediaSingle": true,
}

// ExtractText приводит описание задачи к простому тексту.
// Строка возвращается как есть (API v2); документ ADF обходится рекурсивно.
func ExtractText(description gjson.Result) string {
	switch {
	case !description.Exists() || description.Type == gjson.Null:
		return ""
	case description.Type == gjson.String:
		return strings.TrimSpace(description.String())
	}

	var b strings.Builder
	walkADF(description, &b)
	return normalizeLines(b.String())
}

func walkADF(node gjson.Result, b *strings.Builder) {
	nodeType := node.Get("type").String()

	switch nodeType {
	case "text":
		b.WriteString(node.Get("text").String())
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	case "mention", "emoji":
		b.WriteString(node.Get("attrs.text").String())
		return
	case "inlineCard":
		b.WriteString(node.Get("attrs.url").String())
		return
	case "listItem":
		b.WriteString("- ")
	case "tableCell", "tableHeader":
		b.WriteString(" | ")
	}

	node.Get("content").ForEach(func(_, child gjson.Result) bool {
		walkADF(child, b)
		return true
	})

	if blockNodes[nodeType] {
		b.WriteString("\n")
	}
}

// normalizeLines убирает пробелы по краям строк и пустые строки.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
