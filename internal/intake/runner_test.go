package intake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahflow/agent/internal/crm"
	"github.com/noahflow/agent/internal/models"
)

// The engine's Run method is what production wires in as the RunFunc;
// the signatures must stay assignable.
var _ RunFunc = (*crm.Engine)(nil).Run

type memoryRecorder struct {
	mu      sync.Mutex
	records []models.RunRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) all() []models.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunRecord(nil), m.records...)
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.xml")
	require.NoError(t, os.WriteFile(path, []byte("<HIMSAAudiometricStandard/>"), 0o644))
	return path
}

func TestRunnerProcessSuccess(t *testing.T) {
	q := newTestQueue()
	recorder := &memoryRecorder{}
	path := writeExport(t)

	build := func(p string) (*models.AutomationRequest, error) {
		return &models.AutomationRequest{
			PatientName: "游閔暘",
			StoreID:     "12",
			SourcePath:  p,
		}, nil
	}
	run := func(_ context.Context, req *models.AutomationRequest) *models.Outcome {
		out := models.Succeeded()
		out.MovedTo = filepath.Join(filepath.Dir(req.SourcePath), "processed", "export.xml")
		return out
	}

	runner := NewRunner(q, build, run, recorder, "", zerolog.Nop())
	entry, _ := q.Offer(path, time.Now())
	selected, ok := q.NextPending()
	require.True(t, ok)
	runner.process(context.Background(), selected)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, "游閔暘", records[0].PatientName)
	assert.Equal(t, path, records[0].SourcePath)
	assert.NotEmpty(t, records[0].MovedTo)
	assert.False(t, records[0].FinishedAt.Before(records[0].StartedAt))

	// Completion lands the file in history so it will not requeue.
	assert.Contains(t, q.HistorySnapshot(), entry.Path)
	_, created := q.Offer(path, entry.LastSeenMtime)
	assert.False(t, created)
}

func TestRunnerProcessParseFailure(t *testing.T) {
	q := newTestQueue()
	recorder := &memoryRecorder{}
	path := writeExport(t)

	build := func(string) (*models.AutomationRequest, error) {
		return nil, fmt.Errorf("no audiology sessions in export")
	}
	run := func(context.Context, *models.AutomationRequest) *models.Outcome {
		t.Fatal("automation must not run for an unparseable file")
		return nil
	}

	runner := NewRunner(q, build, run, recorder, "", zerolog.Nop())
	q.Offer(path, time.Now())
	selected, ok := q.NextPending()
	require.True(t, ok)
	runner.process(context.Background(), selected)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, models.ErrorKindParse, records[0].Kind)
	assert.Contains(t, records[0].Message, "no audiology sessions")

	// The rejected file is parked in failed/ next to the watch folder.
	assert.Equal(t, "failed", filepath.Base(filepath.Dir(records[0].MovedTo)))
	_, err := os.Stat(records[0].MovedTo)
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunnerCanceledRunNotRecorded(t *testing.T) {
	q := newTestQueue()
	recorder := &memoryRecorder{}
	path := writeExport(t)

	ctx, cancel := context.WithCancel(context.Background())
	build := func(p string) (*models.AutomationRequest, error) {
		return &models.AutomationRequest{SourcePath: p}, nil
	}
	run := func(runCtx context.Context, _ *models.AutomationRequest) *models.Outcome {
		cancel()
		return models.Failed(models.ErrorKindNavigation, "interrupted")
	}

	runner := NewRunner(q, build, run, recorder, "", zerolog.Nop())
	q.Offer(path, time.Now())
	selected, _ := q.NextPending()
	runner.process(ctx, selected)

	assert.Empty(t, recorder.all(), "canceled runs leave no audit record")
	assert.Empty(t, q.HistorySnapshot())
	_, err := os.Stat(path)
	assert.NoError(t, err, "file stays for the next process to pick up")
}

func TestRunnerRunDrainsQueue(t *testing.T) {
	q := newTestQueue()
	path := writeExport(t)

	done := make(chan struct{})
	build := func(p string) (*models.AutomationRequest, error) {
		return &models.AutomationRequest{SourcePath: p}, nil
	}
	run := func(context.Context, *models.AutomationRequest) *models.Outcome {
		close(done)
		return models.Succeeded()
	}

	runner := NewRunner(q, build, run, nil, "", zerolog.Nop())
	runner.idle = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	q.Offer(path, time.Now())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never picked up the queued file")
	}
}
