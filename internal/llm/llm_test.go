package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type fakeGen struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeGen) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func TestParseDraft(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reply     string
		wantQuery string
		wantType  string
		wantErr   bool
	}{
		{
			name:      "search task",
			reply:     `{"task_prompt":"List AI news","search_query":"AI news for the last 24 hours","schedule":{"type":"daily","hour":8,"minute":0,"timezone":"Europe/Berlin"}}`,
			wantQuery: "AI news for the last 24 hours",
			wantType:  "daily",
		},
		{
			name:     "reminder with null query",
			reply:    `{"task_prompt":"Water the plants","search_query":null,"schedule":{"type":"once","datetime":"2026-10-20T09:00:00","timezone":"UTC"}}`,
			wantType: "once",
		},
		{
			name:      "fenced",
			reply:     "```json\n{\"task_prompt\":\"x\",\"search_query\":\"q\",\"schedule\":{\"type\":\"weekly\",\"day_of_week\":\"friday\",\"hour\":9,\"minute\":5,\"timezone\":\"UTC\"}}\n```",
			wantQuery: "q",
			wantType:  "weekly",
		},
		{name: "prose", reply: "Sure! Here is your task.", wantErr: true},
		{name: "no schedule", reply: `{"task_prompt":"x","search_query":null}`, wantErr: true},
		{name: "empty prompt", reply: `{"task_prompt":" ","schedule":{"type":"daily"}}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDraft(tt.reply)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedTask)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantQuery, d.SearchQuery)
			require.Equal(t, tt.wantType, d.Schedule.Type)
		})
	}
}

func TestTaskCompilerSendsPromptAndText(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{reply: `{"task_prompt":"p","search_query":"q","schedule":{"type":"daily","hour":7,"minute":0,"timezone":"UTC"}}`}
	c := NewTaskCompiler(gen, Config{})
	c.today = func() string { return "2026-10-16 (Friday)" }

	d, err := c.Compile(context.Background(), "Every morning send me Go news")
	require.NoError(t, err)
	require.Equal(t, "p", d.Instructions)
	require.NotNil(t, d.Schedule.Hour)
	require.Equal(t, 7, *d.Schedule.Hour)

	require.Len(t, gen.got, 2)
	require.Equal(t, schema.System, gen.got[0].Role)
	require.Contains(t, gen.got[0].Content, "2026-10-16 (Friday)")
	require.Equal(t, "Every morning send me Go news", gen.got[1].Content)
}

func TestCompilerPropagatesModelError(t *testing.T) {
	t.Parallel()

	c := NewTaskCompiler(&fakeGen{err: errors.New("rate limited")}, Config{})
	_, err := c.Compile(context.Background(), "anything")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMalformedTask)
}

func TestSummarizerMessageOrder(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{reply: "Hello, here are your results"}
	s := NewSummarizer(gen, Config{})
	out, err := s.Summarize(context.Background(), "Format as a list", "[Go 1.24](https://go.dev)")
	require.NoError(t, err)
	require.Equal(t, "Hello, here are your results", out)

	require.Len(t, gen.got, 3)
	require.Equal(t, schema.System, gen.got[0].Role)
	require.Equal(t, "Format as a list", gen.got[1].Content)
	require.Equal(t, "[Go 1.24](https://go.dev)", gen.got[2].Content)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewOpenAI(context.Background(), Config{})
	require.ErrorIs(t, err, ErrNoAPIKey)
}
