package sweep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/jobstore/memory"
	"github.com/senka-social/scheduler/internal/scheduler"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%03d", g.n), nil
}

func TestEnqueueSweepIsDeduplicated(t *testing.T) {
	t.Parallel()

	jobs := memory.New(systemClock{}, &seqIDGen{})
	svc := New(jobs, zap.NewNop(), "")

	require.NoError(t, svc.EnqueueSweep(context.Background()))
	require.NoError(t, svc.EnqueueSweep(context.Background()))
	require.NoError(t, svc.EnqueueSweep(context.Background()))

	snap := jobs.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, scheduler.TaskSweep, snap[0].Name)
	require.Equal(t, scheduler.DedupKey(scheduler.TaskSweep, "singleton"), snap[0].DedupKey)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	jobs := memory.New(systemClock{}, &seqIDGen{})
	svc := New(jobs, zap.NewNop(), "not a cron expression")
	require.Error(t, svc.Start(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	jobs := memory.New(systemClock{}, &seqIDGen{})
	svc := New(jobs, zap.NewNop(), "@every 1h")
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
}
