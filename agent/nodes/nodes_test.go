package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/agent/oracle/mock"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

func TestRewrite(t *testing.T) {
	t.Run("store rewrite keeps counter", func(t *testing.T) {
		m := mock.New()
		n := NewNodes(m.Oracles())
		state := model.NewRunState("what is go?")
		state.RetrievalNum = 2
		state.QueryFeedbacks = []string{"f1", "f2"}

		u, err := n.RewriteForStore(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, "rewrite_for_store#1", *u.RewrittenQuestion)
		assert.Equal(t, model.ModeVectorstore, *u.SearchMode)
		assert.Nil(t, u.RetrievalNum)
		assert.Equal(t, "f1\nf2", m.LastVars(oracle.TaskRewriteForStore)["feedback"])
	})

	t.Run("web rewrite resets counter on mode switch", func(t *testing.T) {
		n := NewNodes(mock.New().Oracles())
		state := model.NewRunState("q")
		state.SearchMode = model.ModeVectorstore
		state.RetrievalNum = 4

		u, err := n.RewriteForWeb(context.Background(), state)
		require.NoError(t, err)
		require.NotNil(t, u.RetrievalNum)
		assert.Equal(t, 0, *u.RetrievalNum)
		assert.Equal(t, model.ModeWebsearch, *u.SearchMode)
	})

	t.Run("web rewrite within websearch keeps counter", func(t *testing.T) {
		n := NewNodes(mock.New().Oracles())
		state := model.NewRunState("q")
		state.SearchMode = model.ModeWebsearch
		state.RetrievalNum = 2

		u, err := n.RewriteForWeb(context.Background(), state)
		require.NoError(t, err)
		assert.Nil(t, u.RetrievalNum)
	})
}

func TestRetrieve(t *testing.T) {
	t.Run("store appends and counts", func(t *testing.T) {
		m := mock.New()
		m.RetrieveFunc = func(_ context.Context, _ int, q string) ([]string, error) {
			return []string{q + "-1", q + "-2"}, nil
		}
		state := model.NewRunState("q")
		state.RewrittenQuestion = "rq"
		state.Documents = []string{"old"}

		u, err := NewNodes(m.Oracles()).RetrieveStore(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"old", "rq-1", "rq-2"}, *u.Documents)
		assert.Equal(t, 1, *u.RetrievalNum)
		assert.Equal(t, []string{"old"}, state.Documents)
	})

	t.Run("store failure is fatal", func(t *testing.T) {
		m := mock.New()
		m.RetrieveFunc = func(context.Context, int, string) ([]string, error) {
			return nil, errors.New("db down")
		}
		_, err := NewNodes(m.Oracles()).RetrieveStore(context.Background(), model.NewRunState("q"))
		assert.Error(t, err)
	})

	t.Run("web failure is recorded", func(t *testing.T) {
		m := mock.New()
		m.SearchFunc = func(context.Context, int, string) ([]string, error) {
			return nil, errors.New("rate limited")
		}
		state := model.NewRunState("q")
		state.Documents = []string{"kept"}
		state.RetrievalNum = 1

		u, err := NewNodes(m.Oracles()).RetrieveWeb(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, 2, *u.RetrievalNum)
		assert.Nil(t, u.Documents)
		require.NotNil(t, u.SearchErrors)
		require.Len(t, *u.SearchErrors, 1)
		assert.Contains(t, (*u.SearchErrors)[0], "rate limited")
	})

	t.Run("web timeout is fatal", func(t *testing.T) {
		m := mock.New()
		m.SearchFunc = func(ctx context.Context, _ int, _ string) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		oracles := m.Oracles().WithTimeout(20 * time.Millisecond)

		u, err := NewNodes(oracles).RetrieveWeb(context.Background(), model.NewRunState("q"))
		assert.ErrorIs(t, err, oracle.ErrTimeout)
		assert.Nil(t, u)
	})

	t.Run("web canceled by caller is fatal", func(t *testing.T) {
		m := mock.New()
		ctx, cancel := context.WithCancel(context.Background())
		m.SearchFunc = func(ctx context.Context, _ int, _ string) ([]string, error) {
			cancel()
			return nil, ctx.Err()
		}

		_, err := NewNodes(m.Oracles()).RetrieveWeb(ctx, model.NewRunState("q"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("web success appends", func(t *testing.T) {
		m := mock.New()
		m.SearchFunc = func(context.Context, int, string) ([]string, error) {
			return []string{"w1"}, nil
		}
		u, err := NewNodes(m.Oracles()).RetrieveWeb(context.Background(), model.NewRunState("q"))
		require.NoError(t, err)
		assert.Equal(t, []string{"w1"}, *u.Documents)
		assert.Equal(t, 1, *u.RetrievalNum)
	})
}

func TestFilterDocuments(t *testing.T) {
	t.Run("keeps relevant subset in order", func(t *testing.T) {
		m := mock.New()
		m.GradeFunc = func(_ oracle.Task, p oracle.Pair) string {
			if strings.HasPrefix(p.Document, "good") {
				return "yes"
			}
			return "no"
		}
		state := model.NewRunState("q")
		state.Documents = []string{"good-1", "bad-1", "good-2", "bad-2"}

		u, err := NewNodes(m.Oracles()).FilterDocuments(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"good-1", "good-2"}, *u.Documents)
		assert.Subset(t, state.Documents, *u.Documents)
		assert.Nil(t, u.QueryFeedbacks)
	})

	t.Run("empty result records feedback", func(t *testing.T) {
		m := mock.New()
		m.GradeFunc = func(oracle.Task, oracle.Pair) string { return "no" }
		state := model.NewRunState("q")
		state.RewrittenQuestion = "rq"
		state.Documents = []string{"a"}
		state.QueryFeedbacks = []string{"earlier"}

		u, err := NewNodes(m.Oracles()).FilterDocuments(context.Background(), state)
		require.NoError(t, err)
		assert.Empty(t, *u.Documents)
		require.NotNil(t, u.QueryFeedbacks)
		assert.Equal(t, "earlier", (*u.QueryFeedbacks)[0])
		assert.Contains(t, (*u.QueryFeedbacks)[1], `"rq"`)
	})

	t.Run("contract violation", func(t *testing.T) {
		m := mock.New()
		m.GradeFunc = func(oracle.Task, oracle.Pair) string { return "relevant" }
		state := model.NewRunState("q")
		state.Documents = []string{"a"}
		_, err := NewNodes(m.Oracles()).FilterDocuments(context.Background(), state)
		assert.ErrorIs(t, err, oracle.ErrContractViolation)
	})
}

func TestExtractKnowledge(t *testing.T) {
	m := mock.New()
	m.GradeFunc = func(_ oracle.Task, p oracle.Pair) string {
		switch p.Document {
		case "noise":
			return ""
		case "blank":
			return "  "
		}
		return "fact from " + p.Document
	}
	state := model.NewRunState("q")
	state.Documents = []string{"a", "noise", "blank", "b"}

	u, err := NewNodes(m.Oracles()).ExtractKnowledge(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"fact from a", "  ", "fact from b"}, *u.Documents)
}

func TestGenerateAndFeedback(t *testing.T) {
	m := mock.New()
	n := NewNodes(m.Oracles())
	state := model.NewRunState("q")
	state.Documents = []string{"d1", "d2"}
	state.GenerationFeedbacks = []string{"g1", "g2"}
	state.GenerationNum = 1

	u, err := n.GenerateAnswer(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, *u.GenerationNum)
	assert.Equal(t, "generate_answer#1", *u.Generation)
	vars := m.LastVars(oracle.TaskGenerateAnswer)
	assert.Equal(t, "d1\n\nd2", vars["context"])
	assert.Equal(t, "g1\ng2", vars["feedback"])

	state.Apply(u)
	u, err = n.AnswerWithFeedback(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, *u.GenerationFeedbacks, 3)
	assert.Equal(t, `Feedback about the answer "generate_answer#1": answer_feedback#1`, (*u.GenerationFeedbacks)[2])

	state.RewrittenQuestion = "rq"
	u, err = n.QueryWithFeedback(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{`Feedback about the query "rq": query_feedback#1`}, *u.QueryFeedbacks)
}

func TestAnswerDirectlyAndConcede(t *testing.T) {
	m := mock.New()
	n := NewNodes(m.Oracles())
	state := model.NewRunState("hi")

	u, err := n.AnswerDirectly(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "answer_directly#1", *u.Generation)
	assert.Equal(t, model.ModeQAOnly, *u.SearchMode)

	u, err = n.Concede(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "concede#1", *u.Generation)
	assert.Nil(t, u.SearchMode)
	assert.Equal(t, "hi", m.LastVars(oracle.TaskConcede)["question"])
}
