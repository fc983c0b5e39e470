package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgallion1/docprompt/internal/extract"
)

// docIDLength is how many hex digits of the content hash name a document.
const docIDLength = 16

// DocID names a document by the leading digits of its content hash.
func DocID(contentHash string) string {
	if len(contentHash) < docIDLength {
		return contentHash
	}
	return contentHash[:docIDLength]
}

// process runs the full pipeline for a job.
func (o *Orchestrator) process(ctx context.Context, job *Job) {
	defer job.finish()
	log := o.log.With("job_id", job.ID)

	res, err := o.pipeline.RunObserved(ctx, job.Source, job.Config(), jobObserver{job: job})
	if err != nil {
		job.AddError(err.Error())
		var se *StageError
		stage := Stage("")
		if errors.As(err, &se) {
			stage = se.Stage
		}
		job.SetStatus(StatusFailed, stage)
		log.Error("job failed", "stage", stage, "error", err)
		return
	}

	docID := DocID(res.ContentHash)
	if o.sink != nil {
		snap := job.Snapshot()
		snap.DocID = docID
		n, err := o.sink.Publish(ctx, docID, snap, res)
		job.IncrPublished(n)
		if err != nil {
			// The result is still served from memory.
			log.Error("publish failed", "doc_id", docID, "error", err)
			job.AddError(fmt.Sprintf("publish: %s", err))
		}
	}

	job.Complete(res, docID)
	log.Info("job completed", "doc_id", docID, "chunks", len(res.Chunks), "prompts", len(res.Prompts), "elapsed", res.Elapsed)
}

// jobObserver mirrors pipeline progress onto a Job.
type jobObserver struct {
	job *Job
}

func (o jobObserver) StageStarted(stage Stage) {
	o.job.SetStatus(stageStatus[stage], stage)
}

func (o jobObserver) ExtractionProgress(st extract.Status) {
	if st.Progress != nil {
		o.job.SetPages(st.Progress.ExtractedPages, st.Progress.TotalPages)
	}
}
