package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testRun struct {
	value int
}

type publishRecord struct {
	stage        string
	errorCode    string
	errorMessage string
}

// recordingPublisher captures every publish and can be told to fail on a
// given stage.
type recordingPublisher struct {
	mu       sync.Mutex
	records  []publishRecord
	failOn   string
	failWith error
}

func (p *recordingPublisher) publish(ctx context.Context, c *testRun, stage, errorCode, errorMessage string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stage == p.failOn {
		return p.failWith
	}
	p.records = append(p.records, publishRecord{stage: stage, errorCode: errorCode, errorMessage: errorMessage})
	return nil
}

func (p *recordingPublisher) stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.records))
	for i, r := range p.records {
		out[i] = r.stage
	}
	return out
}

func newTestOrchestrator(t *testing.T, stages []Stage[*testRun], pub *recordingPublisher) *Orchestrator[*testRun] {
	t.Helper()
	cpu := NewPool("cpu", 2, 4, zap.NewNop())
	io := NewPool("io", 2, 4, zap.NewNop())
	t.Cleanup(cpu.Stop)
	t.Cleanup(io.Stop)
	return NewOrchestrator("test", "RECEIVED", "TEST-PIPELINE-ERROR", stages, pub.publish, cpu, io, zap.NewNop())
}

func await(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline run did not complete")
		return nil
	}
}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	pub := &recordingPublisher{}
	orch := newTestOrchestrator(t, []Stage[*testRun]{
		{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error {
			c.value++
			return nil
		}},
		{Name: "PERSISTED", Kind: IOBound, Run: func(ctx context.Context, c *testRun) error {
			c.value *= 10
			return nil
		}},
	}, pub)

	run := &testRun{value: 1}
	require.NoError(t, await(t, orch.Run(context.Background(), run)))

	assert.Equal(t, []string{"RECEIVED", "VALIDATED", "PERSISTED"}, pub.stages())
	assert.Equal(t, 20, run.value, "stages see each other's context updates in order")
}

func TestOrchestrator_StageFailure(t *testing.T) {
	t.Run("domain error publishes FAILED and resolves clean", func(t *testing.T) {
		pub := &recordingPublisher{}
		orch := newTestOrchestrator(t, []Stage[*testRun]{
			{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error {
				return Domainf("value out of range")
			}},
			{Name: "PERSISTED", Kind: IOBound, Run: func(ctx context.Context, c *testRun) error {
				t.Error("stage after a failure must not run")
				return nil
			}},
		}, pub)

		require.NoError(t, await(t, orch.Run(context.Background(), &testRun{})))

		stages := pub.stages()
		require.Equal(t, []string{"RECEIVED", "FAILED"}, stages)
		last := pub.records[len(pub.records)-1]
		assert.Equal(t, "TEST-PIPELINE-ERROR", last.errorCode)
		assert.Contains(t, last.errorMessage, "value out of range")
	})

	t.Run("exactly one terminal event per run", func(t *testing.T) {
		pub := &recordingPublisher{}
		orch := newTestOrchestrator(t, []Stage[*testRun]{
			{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error {
				return errors.New("infrastructure hiccup")
			}},
		}, pub)

		require.NoError(t, await(t, orch.Run(context.Background(), &testRun{})))

		terminal := 0
		for _, r := range pub.records {
			if r.stage == "FAILED" || r.stage == "PERSISTED" {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
	})
}

func TestOrchestrator_PublishFailure(t *testing.T) {
	t.Run("mid-run publish failure turns into FAILED", func(t *testing.T) {
		pub := &recordingPublisher{failOn: "VALIDATED", failWith: errors.New("broker unavailable")}
		orch := newTestOrchestrator(t, []Stage[*testRun]{
			{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error { return nil }},
			{Name: "PERSISTED", Kind: IOBound, Run: func(ctx context.Context, c *testRun) error {
				t.Error("stage after a failed publish must not run")
				return nil
			}},
		}, pub)

		require.NoError(t, await(t, orch.Run(context.Background(), &testRun{})))
		assert.Equal(t, []string{"RECEIVED", "FAILED"}, pub.stages())
	})

	t.Run("handle carries the error when even FAILED cannot publish", func(t *testing.T) {
		cause := errors.New("broker unavailable")
		pub := &recordingPublisher{failOn: "FAILED", failWith: cause}
		orch := newTestOrchestrator(t, []Stage[*testRun]{
			{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error {
				return errors.New("stage broke")
			}},
		}, pub)

		err := await(t, orch.Run(context.Background(), &testRun{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("entry publish failure fails the run before the handle is used", func(t *testing.T) {
		pub := &recordingPublisher{failOn: "RECEIVED", failWith: errors.New("broker unavailable")}
		orch := newTestOrchestrator(t, []Stage[*testRun]{
			{Name: "VALIDATED", Kind: CPUBound, Run: func(ctx context.Context, c *testRun) error {
				t.Error("no stage should run after a failed entry publish")
				return nil
			}},
		}, pub)

		require.NoError(t, await(t, orch.Run(context.Background(), &testRun{})))
		assert.Equal(t, []string{"FAILED"}, pub.stages())
	})
}
