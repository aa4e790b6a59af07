package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid volume expression",
			expr:      `count > 200`,
			wantError: false,
		},
		{
			name:      "valid compound expression",
			expr:      `count > 50 && meanSentiment < -0.4`,
			wantError: false,
		},
		{
			name:      "valid reach expression",
			expr:      `maxReach > 10000 && minSentiment < -0.8`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `totalReach`,
			wantError: true,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar > 5`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateRuleExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateRule(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	stats := WindowStats{
		Count:                 120,
		TotalReach:            55000,
		MaxReach:              30000,
		MeanSentiment:         -0.55,
		WeightedMeanSentiment: -0.72,
		MinSentiment:          -0.9,
		NegativeShare:         0.7,
		WindowMillis:          3600000,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "volume over floor",
			expr: `count > 100`,
			want: true,
		},
		{
			name: "volume under floor",
			expr: `count > 200`,
			want: false,
		},
		{
			name: "negative and loud",
			expr: `meanSentiment < -0.5 && count >= 10`,
			want: true,
		},
		{
			name: "viral negative",
			expr: `minSentiment < -0.8 && maxReach > 10000`,
			want: true,
		},
		{
			name: "mostly negative share",
			expr: `negativeShare > 0.5`,
			want: true,
		},
		{
			name: "reach-weighted sentiment",
			expr: `weightedMeanSentiment < -0.7`,
			want: true,
		},
		{
			name: "ternary guard",
			expr: `windowMillis > 0 ? count > 100 : false`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program, err := eval.CompileRule(tt.expr)
			require.NoError(t, err)

			got, err := eval.EvaluateRule(context.Background(), program, stats)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCompilesAndRuns(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.Evaluate(context.Background(), `count >= 1`, WindowStats{Count: 1})
	require.NoError(t, err)
	assert.True(t, got)

	_, err = eval.Evaluate(context.Background(), `count +`, WindowStats{})
	assert.Error(t, err)
}
