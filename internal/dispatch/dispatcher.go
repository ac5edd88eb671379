// Package dispatch translates checkup submissions into background inference
// tasks and owns the re-dispatch policy that recovers from broker or worker
// loss without corrupting checkup records.
//
// Submission and dispatch are deliberately not one atomic unit: the credit
// debit and checkup/sample rows commit in a local transaction first, and the
// enqueue happens after commit. Queueing is a side effect that cannot be
// rolled back, so instead of distributed transactions the design accepts the
// narrow committed-but-not-queued window and compensates by re-dispatching
// when a PENDING checkup is read with a dead task handle.
package dispatch

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/medmind/go-derm-backend/internal/domain"
	"github.com/medmind/go-derm-backend/internal/queue"
	"github.com/medmind/go-derm-backend/internal/repo"
)

// TaskRunCheckup is the registered function name for a checkup inference run.
const TaskRunCheckup = "inference.run_checkup"

// RunCheckupArgs is the payload for TaskRunCheckup.
type RunCheckupArgs struct {
	CheckupID uint `json:"checkup_id"`
}

// Broker is the queue contract the dispatcher needs: enqueue a named task and
// read back the execution state of a previously issued handle.
// *queue.Store satisfies it.
type Broker interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	State(ctx context.Context, handle string) (queue.TaskState, error)
}

var dispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inference_dispatches_total",
		Help: "Inference task dispatch attempts by outcome.",
	},
	[]string{"outcome"}, // queued | failed | requeued
)

func init() {
	prometheus.MustRegister(dispatches)
}

// Dispatcher enqueues inference work and tracks task handles on checkups.
type Dispatcher struct {
	DB     *gorm.DB
	Broker Broker
}

// Result reports the outcome of a dispatch attempt. Queued=false is a
// degraded success, not an error: the checkup stays PENDING and the API
// layer reports "accepted but not yet queued" to the caller.
type Result struct {
	TaskID string
	Queued bool
	Err    string
}

// Dispatch enqueues exactly one inference run for the checkup and records
// the returned handle on the row. Persisting the handle is best-effort; the
// worker run does not depend on it.
func (d *Dispatcher) Dispatch(ctx context.Context, checkupID uint) Result {
	handle, err := d.Broker.Enqueue(ctx, TaskRunCheckup, RunCheckupArgs{CheckupID: checkupID})
	if err != nil {
		dispatches.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Uint("checkup_id", checkupID).Msg("inference dispatch failed; checkup stays pending")
		return Result{Queued: false, Err: err.Error()}
	}
	dispatches.WithLabelValues("queued").Inc()

	if err := repo.SetTaskID(ctx, d.DB, checkupID, handle); err != nil {
		log.Warn().Err(err).Uint("checkup_id", checkupID).Str("task_id", handle).
			Msg("failed to persist task handle; inference will still run")
	}
	return Result{TaskID: handle, Queued: true}
}

// EnsureDispatched re-issues a dispatch for a checkup found PENDING whose
// recorded task handle is missing, unknown to the broker, or in a terminal
// failure state. This is the recovery path for a worker crash between "task
// accepted" and "task executed". It must never re-trigger from IN_PROGRESS,
// COMPLETED, or FAILED; those callers get (false, nil).
func (d *Dispatcher) EnsureDispatched(ctx context.Context, c *domain.Checkup) (bool, error) {
	if c.Status != domain.CheckupPending {
		return false, nil
	}

	if c.TaskID != nil {
		state, err := d.Broker.State(ctx, *c.TaskID)
		switch {
		case err == nil && !state.TerminalFailure():
			// Task is live (pending/started) or already succeeded; leave it be.
			return false, nil
		case err != nil && err != queue.ErrUnknownTask:
			// Cannot check the broker; proceed with normal polling instead of
			// risking a duplicate run.
			return false, err
		}
	}

	res := d.Dispatch(ctx, c.ID)
	if !res.Queued {
		return false, nil
	}
	dispatches.WithLabelValues("requeued").Inc()
	c.TaskID = &res.TaskID
	log.Info().Uint("checkup_id", c.ID).Str("task_id", res.TaskID).Msg("re-dispatched inference for pending checkup")
	return true, nil
}
