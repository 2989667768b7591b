// Package rendering renders ClickHouse statements from text templates with
// Sprig functions plus SQL quoting helpers
package rendering

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/ethpandaops/chfs/pkg/clickhouse"
)

// TemplateEngine provides template rendering with Sprig functions
type TemplateEngine struct {
	funcMap template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewTemplateEngine creates a new template engine with Sprig functions and
// the ident, literal and table SQL helpers
func NewTemplateEngine() *TemplateEngine {
	funcMap := sprig.TxtFuncMap()
	funcMap["ident"] = clickhouse.QuoteIdentifier
	funcMap["literal"] = clickhouse.QuoteString
	funcMap["table"] = clickhouse.TableName

	return &TemplateEngine{
		funcMap: funcMap,
		cache:   make(map[string]*template.Template),
	}
}

// Render renders a template with the given variables. Parsed templates are
// cached by content.
func (t *TemplateEngine) Render(content string, variables any) (string, error) {
	tmpl, err := t.parse(content)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

func (t *TemplateEngine) parse(content string) (*template.Template, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tmpl, ok := t.cache[content]; ok {
		return tmpl, nil
	}

	tmpl, err := template.New("sql").Funcs(t.funcMap).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	t.cache[content] = tmpl

	return tmpl, nil
}
