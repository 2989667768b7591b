package rendering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_Render(t *testing.T) {
	engine := NewTemplateEngine()

	tests := []struct {
		name      string
		template  string
		variables map[string]interface{}
		expected  string
		hasError  bool
	}{
		{
			name:     "simple variable substitution",
			template: "SELECT * FROM {{.database}}.{{.table}}",
			variables: map[string]interface{}{
				"database": "churn",
				"table":    "features",
			},
			expected: "SELECT * FROM churn.features",
		},
		{
			name:     "quoting helpers",
			template: "SELECT * FROM {{ table .database .table }} WHERE {{ ident .column }} = {{ literal .value }}",
			variables: map[string]interface{}{
				"database": "churn",
				"table":    "features",
				"column":   "customer_id",
				"value":    "it's",
			},
			expected: "SELECT * FROM `churn`.`features` WHERE `customer_id` = 'it\\'s'",
		},
		{
			name:     "sprig join",
			template: `ORDER BY ({{ .keys | join ", " }})`,
			variables: map[string]interface{}{
				"keys": []string{"`customer_id`", "`transaction_ts`"},
			},
			expected: "ORDER BY (`customer_id`, `transaction_ts`)",
		},
		{
			name:     "conditional logic",
			template: `{{if .comment}}COMMENT {{ literal .comment }}{{else}}NO COMMENT{{end}}`,
			variables: map[string]interface{}{
				"comment": "churn features",
			},
			expected: "COMMENT 'churn features'",
		},
		{
			name:     "invalid template syntax",
			template: "SELECT * FROM {{.database",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Render(tt.template, tt.variables)

			if tt.hasError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestTemplateEngine_Cache(t *testing.T) {
	engine := NewTemplateEngine()

	for i := 0; i < 3; i++ {
		out, err := engine.Render("{{ .n }}", map[string]int{"n": i})
		require.NoError(t, err)
		assert.Equal(t, []string{"0", "1", "2"}[i], out)
	}

	assert.Len(t, engine.cache, 1)
}
