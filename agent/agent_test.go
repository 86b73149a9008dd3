package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/adaptive-rag-go/agent/graph"
	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/agent/oracle/mock"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

func newParams(maxRetrievals, maxGenerations, budget int) model.AgentParameters {
	return model.AgentParameters{
		MaxRetrievals:     maxRetrievals,
		MaxGenerations:    maxGenerations,
		StepBudget:        budget,
		GraderConcurrency: 1,
	}
}

func collectNodes(t *testing.T, a *adaptiveAgent, question string) ([]string, error) {
	t.Helper()
	var visited []string
	for step, err := range a.Stream(context.Background(), question) {
		if err != nil {
			return visited, err
		}
		visited = append(visited, step.Node)
	}
	return visited, nil
}

func TestHappyPathVectorstore(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
	m.RetrieveFunc = func(_ context.Context, _ int, q string) ([]string, error) {
		return []string{"doc about " + q}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	state, err := a.Run(context.Background(), "what is an agent?")
	require.NoError(t, err)
	assert.Equal(t, 1, state.RetrievalNum)
	assert.Equal(t, 1, state.GenerationNum)
	assert.Equal(t, model.ModeVectorstore, state.SearchMode)
	assert.Equal(t, "generate_answer#1", state.Generation)
	assert.Equal(t, []string{"doc about rewrite_for_store#1"}, state.Documents)
	assert.Equal(t, 0, m.Calls("web_search"))

	visited, err := collectNodes(t, a, "what is an agent?")
	require.NoError(t, err)
	assert.Equal(t, []string{
		consts.RewriteForStore,
		consts.RetrieveStore,
		consts.FilterDocuments,
		consts.ExtractKnowledge,
		consts.GenerateAnswer,
	}, visited)
}

func TestHallucinationLoopConcedes(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
	m.Labels[oracle.TaskGradeHallucination] = []string{"no"}
	m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
		return []string{"d"}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 2, 50))
	require.NoError(t, err)

	state, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 3, state.GenerationNum)
	assert.Equal(t, "concede#1", state.Generation)
	assert.Len(t, state.GenerationFeedbacks, 2)
	assert.Equal(t, 1, m.Calls(string(oracle.TaskConcede)))
	assert.Equal(t, 0, m.Calls(string(oracle.TaskGradeAnswer)))
}

func TestGenerationNumBound(t *testing.T) {
	for maxGenerations := 0; maxGenerations <= 3; maxGenerations++ {
		t.Run(fmt.Sprintf("max_generations=%d", maxGenerations), func(t *testing.T) {
			m := mock.New()
			m.Labels[oracle.TaskRouteQuestion] = []string{"websearch"}
			m.Labels[oracle.TaskGradeAnswer] = []string{"no"}
			m.SearchFunc = func(context.Context, int, string) ([]string, error) {
				return []string{"w"}, nil
			}

			a, err := NewAdaptiveAgent(m.Oracles(), newParams(100, maxGenerations, 500))
			require.NoError(t, err)

			state, err := a.Run(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, maxGenerations+1, state.GenerationNum)
			assert.Equal(t, "concede#1", state.Generation)
			assert.Len(t, state.QueryFeedbacks, maxGenerations)
		})
	}
}

func TestEscalationThenGiveUp(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
	m.GradeFunc = func(oracle.Task, oracle.Pair) string { return "no" }
	m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
		return []string{"irrelevant"}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	var (
		visited     []string
		webRewrites []*model.StateUpdate
	)
	for step, err := range a.Stream(context.Background(), "q") {
		require.NoError(t, err)
		visited = append(visited, step.Node)
		if step.Node == consts.RewriteForWeb {
			webRewrites = append(webRewrites, step.Update)
		}
	}

	assert.Equal(t, 4, m.Calls("vector_retrieve"))
	assert.Equal(t, 4, m.Calls("web_search"))
	assert.Equal(t, consts.Concede, visited[len(visited)-1])
	assert.Len(t, visited, 25)

	// 仅第一次切换到网络搜索时重置计数
	require.Len(t, webRewrites, 4)
	require.NotNil(t, webRewrites[0].RetrievalNum)
	assert.Equal(t, 0, *webRewrites[0].RetrievalNum)
	for _, u := range webRewrites[1:] {
		assert.Nil(t, u.RetrievalNum)
	}

	state, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.ModeWebsearch, state.SearchMode)
	assert.Equal(t, 4, state.RetrievalNum)
	assert.Empty(t, state.Documents)
	assert.Len(t, state.QueryFeedbacks, 8)
}

func TestWebSearchFailureIsRecorded(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"websearch"}
	m.SearchFunc = func(_ context.Context, attempt int, _ string) ([]string, error) {
		if attempt == 1 {
			return nil, errors.New("rate limited")
		}
		return []string{"fresh news"}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	state, err := a.Run(context.Background(), "latest news")
	require.NoError(t, err)
	assert.Equal(t, 2, state.RetrievalNum)
	require.Len(t, state.SearchErrors, 1)
	assert.Contains(t, state.SearchErrors[0], "rate limited")
	assert.Equal(t, []string{"fresh news"}, state.Documents)
	assert.Equal(t, "generate_answer#1", state.Generation)
}

func TestWebSearchFailureMidway(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"websearch"}
	m.GradeFunc = func(task oracle.Task, p oracle.Pair) string {
		if task == oracle.TaskExtractKnowledge {
			return p.Document
		}
		if p.Document == "relevant" {
			return "yes"
		}
		return "no"
	}
	m.SearchFunc = func(_ context.Context, attempt int, _ string) ([]string, error) {
		switch attempt {
		case 1:
			return []string{"off topic"}, nil
		case 2:
			return nil, errors.New("upstream 503")
		}
		return []string{"relevant"}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	var webSteps []*model.StateUpdate
	for step, err := range a.Stream(context.Background(), "q") {
		require.NoError(t, err)
		if step.Node == consts.RetrieveWeb {
			webSteps = append(webSteps, step.Update)
		}
	}
	require.Len(t, webSteps, 3)
	assert.Nil(t, webSteps[1].Documents)
	require.NotNil(t, webSteps[1].SearchErrors)
	assert.Contains(t, (*webSteps[1].SearchErrors)[0], "upstream 503")

	state, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 3, state.RetrievalNum)
	assert.Equal(t, []string{"relevant"}, state.Documents)
	require.Len(t, state.SearchErrors, 1)
	assert.Equal(t, "generate_answer#1", state.Generation)
}

func TestWebSearchTimeoutIsFatal(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"websearch"}
	m.SearchFunc = func(ctx context.Context, _ int, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	params := newParams(3, 3, 50)
	params.OracleTimeout = 20 * time.Millisecond
	a, err := NewAdaptiveAgent(m.Oracles(), params)
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), "q")
	assert.ErrorIs(t, err, oracle.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, consts.RetrieveWeb, nodeErr.Node)
	assert.Equal(t, 0, m.Calls(string(oracle.TaskGenerateAnswer)))
}

func TestStreamIsReentrant(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
	m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
		return []string{"d"}, nil
	}
	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	seq := a.Stream(context.Background(), "q")
	for range 2 {
		var retrievals, generations []int
		for step, err := range seq {
			require.NoError(t, err)
			if step.Update.RetrievalNum != nil {
				retrievals = append(retrievals, *step.Update.RetrievalNum)
			}
			if step.Update.GenerationNum != nil {
				generations = append(generations, *step.Update.GenerationNum)
			}
		}
		assert.Equal(t, []int{1}, retrievals)
		assert.Equal(t, []int{1}, generations)
	}
}

func TestQAOnlySkipsRetrieval(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"qa_only"}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	visited, err := collectNodes(t, a, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{consts.AnswerDirectly}, visited)

	answer, err := a.Invoke(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "answer_directly#2", answer)
	assert.Equal(t, 0, m.Calls("vector_retrieve"))
	assert.Equal(t, 0, m.Calls("web_search"))
	assert.Equal(t, 0, m.Calls(string(oracle.TaskGenerateAnswer)))
}

func TestFatalErrors(t *testing.T) {
	t.Run("step budget", func(t *testing.T) {
		m := mock.New()
		m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
		m.GradeFunc = func(oracle.Task, oracle.Pair) string { return "no" }

		a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 10))
		require.NoError(t, err)

		_, err = a.Invoke(context.Background(), "q")
		assert.ErrorIs(t, err, graph.ErrStepBudgetExceeded)
	})

	t.Run("contract violation", func(t *testing.T) {
		m := mock.New()
		m.Labels[oracle.TaskRouteQuestion] = []string{"QA_LM"}

		a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
		require.NoError(t, err)

		_, err = a.Invoke(context.Background(), "q")
		assert.ErrorIs(t, err, oracle.ErrContractViolation)
	})

	t.Run("vector store failure", func(t *testing.T) {
		m := mock.New()
		m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
		m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
			return nil, errors.New("index corrupted")
		}

		a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
		require.NoError(t, err)

		var last error
		for _, err := range a.Stream(context.Background(), "q") {
			last = err
		}
		var nodeErr *graph.NodeError
		require.ErrorAs(t, last, &nodeErr)
		assert.Equal(t, consts.RetrieveStore, nodeErr.Node)
	})
}

func TestStreamStopsEarly(t *testing.T) {
	m := mock.New()
	m.Labels[oracle.TaskRouteQuestion] = []string{"vectorstore"}
	m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
		return []string{"d"}, nil
	}

	a, err := NewAdaptiveAgent(m.Oracles(), newParams(3, 3, 50))
	require.NoError(t, err)

	count := 0
	for _, err := range a.Stream(context.Background(), "q") {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, m.Calls("vector_retrieve"))
	assert.Equal(t, 0, m.Calls(string(oracle.TaskGenerateAnswer)))
}
