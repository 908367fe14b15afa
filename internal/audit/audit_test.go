package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(_ context.Context, p string) (string, error) {
	g.prompt = p
	return g.reply, g.err
}

func (g *stubGenerator) GenerateGrounded(ctx context.Context, p string) (string, error) {
	return g.Generate(ctx, p)
}

func TestVerdict_Passes(t *testing.T) {
	tests := []struct {
		name      string
		v         Verdict
		threshold int
		want      bool
	}{
		{"approved above", Verdict{Score: 90, Approved: true}, 85, true},
		{"approved at threshold", Verdict{Score: 85, Approved: true}, 85, true},
		{"approved below threshold", Verdict{Score: 60, Approved: true}, 85, false},
		{"rejected high score", Verdict{Score: 99, Approved: false}, 0, false},
		{"approved zero threshold", Verdict{Score: 0, Approved: true}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Passes(tt.threshold))
		})
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("Here you go:\n```json\n{\"score\": 72.6, \"approved\": false, \"feedback\": \"thin\", \"violations\": [\"HYPE\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, Verdict{Score: 73, Approved: false, Feedback: "thin", Violations: []string{"HYPE"}}, v)

	v, err = ParseVerdict(`{"score": 140, "approved": true}`)
	require.NoError(t, err)
	assert.Equal(t, 100, v.Score)
	assert.Empty(t, v.Violations)

	v, err = ParseVerdict(`{"score": 1e20, "approved": true}`)
	require.NoError(t, err)
	assert.Equal(t, 100, v.Score)

	v, err = ParseVerdict(`{"score": -1e20, "approved": false}`)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Score)

	_, err = ParseVerdict("I cannot grade this.")
	assert.Error(t, err)

	_, err = ParseVerdict(`{"feedback": "no score"}`)
	assert.Error(t, err)
}

func TestGeneratorEvaluator_Audit(t *testing.T) {
	gen := &stubGenerator{reply: `{"score": 91, "approved": true, "feedback": "solid", "violations": []}`}
	e := NewGeneratorEvaluator(gen, "", 0, nil)

	v := e.Audit(context.Background(), "the article")
	assert.Equal(t, 91, v.Score)
	assert.True(t, v.Approved)
	assert.False(t, v.FailedOpen())
	assert.True(t, strings.HasPrefix(gen.prompt, DefaultRubric))
	assert.True(t, strings.HasSuffix(gen.prompt, "CONTENT TO AUDIT:\nthe article"))
}

func TestGeneratorEvaluator_FailsOpenAndLogs(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{"generator error", &stubGenerator{err: errors.New("quota exceeded")}},
		{"unparseable reply", &stubGenerator{reply: "looks fine to me"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			e := NewGeneratorEvaluator(tt.gen, "", 0, zap.New(core))

			v := e.Audit(context.Background(), "content")
			assert.Equal(t, FailOpen(), v)
			assert.Equal(t, 50, v.Score)
			assert.True(t, v.Approved)
			assert.True(t, v.FailedOpen())

			entries := logs.FilterMessage(FailTag).All()
			require.Len(t, entries, 1)
			assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		})
	}
}
