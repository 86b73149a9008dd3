package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/conf"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// fakeChatModel 按输入返回固定内容
type fakeChatModel struct {
	mu       sync.Mutex
	prompts  []string
	inFlight atomic.Int32
	peak     atomic.Int32
	reply    func(prompt string) (string, error)
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...ecmodel.Option) (*schema.Message, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	prompt := input[0].Content
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	content, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...ecmodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func newTestOracle(t *testing.T, reply func(string) (string, error), concurrency int) (*Oracle, *fakeChatModel) {
	t.Helper()
	fake := &fakeChatModel{reply: reply}
	o, err := NewOracle(fake, nil, concurrency)
	require.NoError(t, err)
	t.Cleanup(o.Release)
	return o, fake
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{content: `{"label": "vectorstore"}`, want: "vectorstore"},
		{content: `{"binary_score": "Yes"}`, want: "yes"},
		{content: "```json\n{\"label\": \"no\"}\n```", want: "no"},
		{content: " websearch. ", want: "websearch"},
		{content: `"qa_only"`, want: "qa_only"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLabel(tt.content), tt.content)
	}
}

func TestClassifyRendersPrompt(t *testing.T) {
	o, fake := newTestOracle(t, func(string) (string, error) {
		return `{"label":"websearch"}`, nil
	}, 1)

	got, err := o.Classify(context.Background(), oracle.TaskRouteQuestion,
		map[string]any{"question": "who won yesterday?"},
		[]string{"vectorstore", "websearch", "qa_only"})
	require.NoError(t, err)
	assert.Equal(t, "websearch", got)

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "who won yesterday?")
	assert.Contains(t, fake.prompts[0], "vectorstore, websearch, qa_only")
}

func TestGenerateTrims(t *testing.T) {
	o, fake := newTestOracle(t, func(string) (string, error) {
		return "  an answer \n", nil
	}, 1)

	got, err := o.Generate(context.Background(), oracle.TaskGenerateAnswer, map[string]any{
		"question": "q",
		"context":  "ctx-doc",
		"feedback": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "an answer", got)
	assert.Contains(t, fake.prompts[0], "ctx-doc")
	assert.NotContains(t, fake.prompts[0], "Earlier answers received")
}

func TestBatchKeepsOrder(t *testing.T) {
	o, fake := newTestOracle(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "doc-relevant") {
			return `{"label":"yes"}`, nil
		}
		return `{"label":"no"}`, nil
	}, 3)

	docs := []string{"doc-relevant-1", "doc-other-1", "doc-relevant-2", "doc-other-2", "doc-relevant-3", "doc-other-3"}
	pairs := make([]oracle.Pair, len(docs))
	for i, d := range docs {
		pairs[i] = oracle.Pair{Question: "q", Document: d}
	}

	got, err := o.Batch(context.Background(), oracle.TaskGradeDocument, pairs)
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no", "yes", "no", "yes", "no"}, got)
	assert.LessOrEqual(t, fake.peak.Load(), int32(3))
}

func TestBatchExtractAndError(t *testing.T) {
	t.Run("extract uses generation", func(t *testing.T) {
		o, _ := newTestOracle(t, func(prompt string) (string, error) {
			if strings.Contains(prompt, "noise") {
				return "", nil
			}
			return "fact", nil
		}, 2)
		got, err := o.Batch(context.Background(), oracle.TaskExtractKnowledge, []oracle.Pair{
			{Question: "q", Document: "useful"},
			{Question: "q", Document: "noise"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"fact", ""}, got)
	})

	t.Run("any failure fails the batch", func(t *testing.T) {
		o, _ := newTestOracle(t, func(prompt string) (string, error) {
			if strings.Contains(prompt, "bad") {
				return "", errors.New("quota exceeded")
			}
			return `{"label":"yes"}`, nil
		}, 2)
		_, err := o.Batch(context.Background(), oracle.TaskGradeDocument, []oracle.Pair{
			{Question: "q", Document: "good"},
			{Question: "q", Document: "bad"},
		})
		assert.ErrorContains(t, err, "quota exceeded")
	})
}

func TestNewChatModelConfig(t *testing.T) {
	cfg := model.LLMConfig{
		Provider:   "openai",
		Parameters: map[string]any{"temperature": 0.2, "max_tokens": 256},
	}
	mc := newChatModelConfig(cfg, conf.Model{ModelID: "gpt-4o-mini", BaseURL: "http://localhost", APIKey: "k"})
	assert.Equal(t, "gpt-4o-mini", mc.Model)
	require.NotNil(t, mc.Temperature)
	assert.InDelta(t, 0.2, *mc.Temperature, 1e-6)
	require.NotNil(t, mc.MaxTokens)
	assert.Equal(t, 256, *mc.MaxTokens)

	_, err := NewChatModel(context.Background(), model.LLMConfig{Provider: "anthropic"}, conf.Model{})
	assert.Error(t, err)
}
