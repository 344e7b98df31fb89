package pool

import (
	"context"

	"github.com/mohammad-safakhou/compendium/internal/research"
)

// runWorker executes one job on the pipeline and reports back to the control
// loop. A panic in the pipeline is converted into a worker-crash failure so
// the supervision policy applies instead of taking the process down.
func (m *Manager) runWorker(ctx context.Context, slotID, epoch int, job research.Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("worker %d: panic running job %s: %v", slotID, job.ID, r)
			m.send(resultMsg{slotID: slotID, epoch: epoch, jobID: job.ID, err: research.Crash("run", r)})
		}
	}()

	report := func(progress int) {
		m.send(progressMsg{slotID: slotID, epoch: epoch, jobID: job.ID, progress: progress})
	}

	result, err := m.pipeline.Run(ctx, slotID, job, report)
	if err != nil {
		if ctx.Err() != nil {
			err = research.Classify("run", ctx.Err())
		} else {
			err = research.Classify("run", err)
		}
		m.send(resultMsg{slotID: slotID, epoch: epoch, jobID: job.ID, err: err})
		return
	}
	m.send(resultMsg{slotID: slotID, epoch: epoch, jobID: job.ID, result: result})
}
