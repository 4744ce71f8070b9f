package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultValidate(t *testing.T) {
	conf := 0.5
	bad := 1.5
	tests := []struct {
		name    string
		result  Result
		wantErr bool
	}{
		{"content ok", Result{Kind: AgentContentCreator, Success: true, Content: &ContentResult{Body: "x"}}, false},
		{"social uses content", Result{Kind: AgentSocialMedia, Success: true, Content: &ContentResult{Body: "x"}}, false},
		{"generic kind with data", Result{Kind: AgentStrategyPlanner, Success: true, Data: map[string]any{"a": 1}}, false},
		{"failure with error", Result{Kind: AgentSEOOptimizer, Success: false, Error: "boom"}, false},
		{"confidence in range", Result{Kind: AgentHumanReview, Success: true, Confidence: &conf}, false},
		{"unknown kind", Result{Kind: "astrologer", Success: true}, true},
		{"missing payload", Result{Kind: AgentTrendAnalyzer, Success: true}, true},
		{"wrong payload", Result{Kind: AgentTrendAnalyzer, Success: true, SEO: &SEOResult{}}, true},
		{"two payloads", Result{Kind: AgentSEOOptimizer, Success: true, SEO: &SEOResult{}, Trend: &TrendResult{}}, true},
		{"typed payload on generic kind", Result{Kind: AgentStrategyPlanner, Success: true, Trend: &TrendResult{}}, true},
		{"failure without error", Result{Kind: AgentSEOOptimizer, Success: false}, true},
		{"failure with payload", Result{Kind: AgentSEOOptimizer, Success: false, Error: "x", SEO: &SEOResult{}}, true},
		{"confidence out of range", Result{Kind: AgentHumanReview, Success: true, Confidence: &bad}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidResult))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStubResultsValidate(t *testing.T) {
	for _, at := range AllTypes {
		res, err := NewStub(at).Execute(context.Background(), Task{ID: "t1", Description: "do it"})
		require.NoError(t, err, at)
		assert.NoError(t, res.Validate(), at)
	}
}

func TestRegistryAvailability(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	r.Register(AgentBrandVoice, NewStub(AgentBrandVoice))

	st, err := r.GetAgentAvailability(ctx, string(AgentBrandVoice))
	require.NoError(t, err)
	assert.True(t, st.IsAvailable)

	free := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.SetAvailable(AgentBrandVoice, false, &free)
	st, err = r.GetAgentAvailability(ctx, string(AgentBrandVoice))
	require.NoError(t, err)
	assert.False(t, st.IsAvailable)
	require.NotNil(t, st.EstimatedFreeTime)
	assert.Equal(t, free, *st.EstimatedFreeTime)

	r.SetAvailable(AgentBrandVoice, true, nil)
	st, _ = r.GetAgentAvailability(ctx, string(AgentBrandVoice))
	assert.True(t, st.IsAvailable)

	_, err = r.GetAgentAvailability(ctx, string(AgentSEOOptimizer))
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRegistryInvoke(t *testing.T) {
	ctx := context.Background()
	r := NewStubRegistry()

	exec, err := r.Invoke(ctx, AgentSEOOptimizer, Task{ID: "task_1", Description: "keywords"})
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, exec.Status)
	assert.True(t, exec.Succeeded())
	assert.Equal(t, "task_1", exec.TaskID)
	assert.Equal(t, 100, exec.TokensUsed)
	require.NotNil(t, exec.Result.SEO)

	t.Run("capability error", func(t *testing.T) {
		r.Register(AgentAnalytics, CapabilityFunc(func(context.Context, Task) (Result, error) {
			return Result{}, errors.New("upstream down")
		}))
		exec, err := r.Invoke(ctx, AgentAnalytics, Task{ID: "t"})
		require.Error(t, err)
		assert.Equal(t, ExecFailed, exec.Status)
		assert.Contains(t, exec.Error, "upstream down")
	})

	t.Run("invalid payload rejected at boundary", func(t *testing.T) {
		r.Register(AgentTrendAnalyzer, CapabilityFunc(func(context.Context, Task) (Result, error) {
			return Result{Success: true, SEO: &SEOResult{}}, nil
		}))
		exec, err := r.Invoke(ctx, AgentTrendAnalyzer, Task{ID: "t"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidResult)
		assert.Equal(t, ExecFailed, exec.Status)
	})

	t.Run("timeout", func(t *testing.T) {
		r.Register(AgentContentCreator, &StubCapability{Type: AgentContentCreator, Delay: time.Second})
		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		exec, err := r.Invoke(tctx, AgentContentCreator, Task{ID: "t"})
		require.Error(t, err)
		assert.Equal(t, ExecTimeout, exec.Status)
	})

	t.Run("unregistered", func(t *testing.T) {
		exec, err := NewRegistry().Invoke(ctx, AgentHumanReview, Task{ID: "t"})
		assert.ErrorIs(t, err, ErrUnknownAgent)
		assert.Equal(t, ExecFailed, exec.Status)
	})
}
