package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noahflow/agent/internal/crm"
	"github.com/noahflow/agent/internal/models"
)

// RequestBuilder turns a queued export file into a ready automation
// request: parse, session selection, override merge. A parse-level
// failure comes back as an error and the file goes straight to failed/.
type RequestBuilder func(path string) (*models.AutomationRequest, error)

// RunFunc executes one automation request end to end, browser included,
// and returns its terminal outcome. The production implementation builds
// a fresh engine per call.
type RunFunc func(ctx context.Context, req *models.AutomationRequest) *models.Outcome

// RunRecorder persists the audit record of a finished run.
type RunRecorder interface {
	Record(ctx context.Context, rec models.RunRecord) error
}

const defaultIdleSleep = 300 * time.Millisecond

// Runner is the single serial worker draining the queue. One file is
// processed at a time; the CRM session is not safe to share between
// concurrent submissions.
type Runner struct {
	queue       *Queue
	build       RequestBuilder
	run         RunFunc
	recorder    RunRecorder
	historyPath string
	idle        time.Duration
	log         zerolog.Logger
}

// NewRunner wires a runner over the queue. recorder may be nil;
// historyPath, when set, receives a history snapshot after every
// completed run.
func NewRunner(queue *Queue, build RequestBuilder, run RunFunc, recorder RunRecorder, historyPath string, log zerolog.Logger) *Runner {
	return &Runner{
		queue:       queue,
		build:       build,
		run:         run,
		recorder:    recorder,
		historyPath: historyPath,
		idle:        defaultIdleSleep,
		log:         log,
	}
}

// Run drains the queue until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := r.queue.NextPending()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.idle):
			}
			continue
		}
		r.process(ctx, entry)
	}
}

func (r *Runner) process(ctx context.Context, entry models.QueueEntry) {
	log := r.log.With().Str("path", entry.Path).Str("entry_id", entry.ID).Logger()
	started := time.Now()

	if err := r.queue.Advance(entry.ID, models.QueueStateInFlight); err != nil {
		log.Warn().Err(err).Msg("entry no longer runnable")
		return
	}

	req, err := r.build(entry.Path)
	if err != nil {
		log.Error().Err(err).Msg("export rejected")
		out := models.Failed(models.ErrorKindParse, err.Error())
		if moved, merr := crm.MoveToFailed(entry.Path); merr != nil {
			log.Error().Err(merr).Msg("could not park rejected file")
		} else {
			out.MovedTo = moved
		}
		r.finish(ctx, entry, nil, out, started)
		return
	}

	log.Info().Str("patient", req.PatientName).Msg("starting automation run")
	out := r.run(ctx, req)

	// A canceled run leaves its file in place; the next process picks it
	// up again, so nothing is recorded as done.
	if !out.Success && ctx.Err() != nil {
		log.Info().Msg("run canceled")
		return
	}
	r.finish(ctx, entry, req, out, started)
}

func (r *Runner) finish(ctx context.Context, entry models.QueueEntry, req *models.AutomationRequest, out *models.Outcome, started time.Time) {
	log := r.log.With().Str("path", entry.Path).Logger()

	rec := models.RunRecord{
		ID:         uuid.NewString(),
		SourcePath: entry.Path,
		Success:    out.Success,
		Kind:       out.Kind,
		Message:    out.Message,
		MovedTo:    out.MovedTo,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if req != nil {
		rec.PatientName = req.PatientName
		rec.StoreID = req.StoreID
	}
	if r.recorder != nil {
		if err := r.recorder.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("audit record failed")
		}
	}

	if err := r.queue.MarkDone(entry.ID); err != nil {
		log.Warn().Err(err).Msg("queue completion failed")
	}
	if r.historyPath != "" {
		if err := SaveHistory(r.historyPath, r.queue); err != nil {
			log.Warn().Err(err).Msg("history snapshot failed")
		}
	}

	if out.Success {
		log.Info().Str("moved_to", out.MovedTo).Msg("run succeeded")
	} else {
		log.Error().Str("kind", string(out.Kind)).Str("message", out.Message).Msg("run failed")
	}
}
