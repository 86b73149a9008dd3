package oracle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/agent/oracle/mock"
)

type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, _ oracle.Task, _ map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Second):
		return "late", nil
	}
}

type shortGrader struct{}

func (shortGrader) Batch(_ context.Context, _ oracle.Task, pairs []oracle.Pair) ([]string, error) {
	return make([]string, len(pairs)-1), nil
}

func TestOracles_Decide(t *testing.T) {
	t.Run("label in set", func(t *testing.T) {
		m := mock.New()
		m.Labels[oracle.TaskRouteQuestion] = []string{"websearch"}
		label, err := m.Oracles().Decide(context.Background(), oracle.TaskRouteQuestion, nil, "vectorstore", "websearch", "qa_only")
		require.NoError(t, err)
		assert.Equal(t, "websearch", label)
	})

	t.Run("label outside set is a contract violation", func(t *testing.T) {
		m := mock.New()
		m.Labels[oracle.TaskGradeAnswer] = []string{"maybe"}
		_, err := m.Oracles().Decide(context.Background(), oracle.TaskGradeAnswer, nil, "yes", "no")
		require.Error(t, err)
		assert.ErrorIs(t, err, oracle.ErrContractViolation)
		var ce *oracle.ContractError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "maybe", ce.Got)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := (&oracle.Oracles{}).Decide(context.Background(), oracle.TaskGradeAnswer, nil, "yes")
		assert.ErrorIs(t, err, oracle.ErrNotConfigured)
	})
}

func TestOracles_Timeout(t *testing.T) {
	o := &oracle.Oracles{Generator: slowGenerator{}, Timeout: 20 * time.Millisecond}
	_, err := o.Write(context.Background(), oracle.TaskConcede, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, oracle.ErrTimeout)
	assert.Contains(t, err.Error(), "timed out")
}

func TestOracles_GradeEach(t *testing.T) {
	t.Run("keeps positions", func(t *testing.T) {
		m := mock.New()
		m.GradeFunc = func(_ oracle.Task, p oracle.Pair) string {
			if p.Document == "b" {
				return "no"
			}
			return "yes"
		}
		out, err := m.Oracles().GradeEach(context.Background(), oracle.TaskGradeDocument, "q", []string{"a", "b", "c"}, "yes", "no")
		require.NoError(t, err)
		assert.Equal(t, []string{"yes", "no", "yes"}, out)
	})

	t.Run("empty input skips the call", func(t *testing.T) {
		m := mock.New()
		out, err := m.Oracles().GradeEach(context.Background(), oracle.TaskGradeDocument, "q", nil, "yes", "no")
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Zero(t, m.Calls(string(oracle.TaskGradeDocument)))
	})

	t.Run("length mismatch", func(t *testing.T) {
		o := &oracle.Oracles{Grader: shortGrader{}}
		_, err := o.GradeEach(context.Background(), oracle.TaskExtractKnowledge, "q", []string{"a", "b"})
		assert.ErrorIs(t, err, oracle.ErrContractViolation)
	})

	t.Run("invalid grade", func(t *testing.T) {
		m := mock.New()
		m.GradeFunc = func(oracle.Task, oracle.Pair) string { return "perhaps" }
		_, err := m.Oracles().GradeEach(context.Background(), oracle.TaskGradeDocument, "q", []string{"a"}, "yes", "no")
		assert.ErrorIs(t, err, oracle.ErrContractViolation)
	})
}
