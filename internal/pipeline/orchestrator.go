// Package pipeline sequences a generation job: seed the batch, enrich each
// candidate's untrusted fields, persist progress for polling clients, and
// finally reconcile the target schema and insert the finished rows.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/agent"
	"github.com/sells-group/recordgen/internal/job"
	"github.com/sells-group/recordgen/internal/model"
	"github.com/sells-group/recordgen/internal/resilience"
	"github.com/sells-group/recordgen/internal/table"
	"github.com/sells-group/recordgen/pkg/anthropic"
)

// Orchestrator owns the phase sequence per job. Entities are processed in a
// plain sequential loop; the gateway's shared limiter is what bounds request
// concurrency across jobs.
type Orchestrator struct {
	strategy   agent.Strategy
	jobs       *job.Manager
	store      table.Store
	reconciler *table.Reconciler
	thresholds agent.Thresholds

	// costModel is the model id used to convert accumulated token usage
	// into an estimated spend on the job record.
	costModel string
}

// New creates an Orchestrator.
func New(strategy agent.Strategy, jobs *job.Manager, store table.Store, reconciler *table.Reconciler, thresholds agent.Thresholds, costModel string) *Orchestrator {
	return &Orchestrator{
		strategy:   strategy,
		jobs:       jobs,
		store:      store,
		reconciler: reconciler,
		thresholds: thresholds,
		costModel:  costModel,
	}
}

// Start registers a job and processes it in the background, returning the
// pending job projection immediately. The caller polls for progress.
func (o *Orchestrator) Start(ctx context.Context, req model.GenerationRequest, tableID string) model.EnrichmentJob {
	j := o.jobs.Create(req.RowCount)

	jobCtx, cancel := context.WithCancel(ctx)
	o.jobs.RegisterCancel(j.ID, cancel)

	go func() {
		defer cancel()
		o.Run(jobCtx, j.ID, req, tableID)
	}()
	return j
}

// Run processes a job synchronously. Exposed for the one-shot CLI path; the
// server goes through Start.
func (o *Orchestrator) Run(ctx context.Context, jobID string, req model.GenerationRequest, tableID string) {
	log := zap.L().With(zap.String("job_id", jobID))

	if err := o.jobs.SetProcessing(jobID, model.StageKnowledgeExtraction); err != nil {
		log.Warn("job no longer runnable", zap.Error(err))
		return
	}

	candidates, usage, err := o.strategy.Seed(ctx, req)
	o.addUsage(jobID, usage)
	if err != nil {
		o.finishWithError(jobID, log, err, "seed phase failed")
		return
	}

	if err := o.jobs.SetStage(jobID, model.StageEnrichment); err != nil {
		return
	}

	records := make([]model.GeneratedRecord, 0, req.RowCount)
	for i, cand := range candidates {
		if o.stopRequested(ctx, jobID) {
			log.Info("job stopped before entity", zap.Int("index", i))
			return
		}

		rec, err := o.processEntity(ctx, jobID, i, cand, req)
		if err != nil {
			o.finishWithError(jobID, log, err, "enrichment aborted")
			return
		}

		// Persist before the next entity begins, so polling clients see
		// partial progress and a crash loses at most one entity.
		if err := o.store.SaveGeneratedRecord(ctx, jobID, *rec); err != nil {
			o.finishWithError(jobID, log, err, "persist record failed")
			return
		}
		records = append(records, *rec)
		_ = o.jobs.RecordCompleted(jobID)
	}

	// The knowledge phase may come up short; the remainder is implicitly
	// failed but still visible as records.
	for i := len(candidates); i < req.RowCount; i++ {
		rec := model.GeneratedRecord{
			Index:  i,
			Data:   map[string]any{},
			Status: model.RecordStatusFailed,
			Error:  "no candidate proposed",
		}
		if err := o.store.SaveGeneratedRecord(ctx, jobID, rec); err != nil {
			o.finishWithError(jobID, log, err, "persist record failed")
			return
		}
		_ = o.jobs.RecordFailed(jobID)
	}

	if o.stopRequested(ctx, jobID) {
		return
	}

	if _, err := o.reconciler.ReconcileSchema(ctx, tableID, req.Fields, records); err != nil {
		o.finishWithError(jobID, log, err, "schema reconciliation failed")
		return
	}
	inserted, err := o.reconciler.InsertRecords(ctx, tableID, records)
	if err != nil {
		o.finishWithError(jobID, log, err, "record insertion failed")
		return
	}

	if err := o.jobs.Complete(jobID); err != nil {
		return
	}
	log.Info("job completed",
		zap.Int("entities", len(records)),
		zap.Int("inserted", inserted),
	)
}

// processEntity merges the knowledge-phase fields with a targeted enrichment
// pass for whatever fell below the trust gate. Only fatal errors propagate;
// everything else degrades to partial data.
func (o *Orchestrator) processEntity(ctx context.Context, jobID string, index int, cand model.Candidate, req model.GenerationRequest) (*model.GeneratedRecord, error) {
	rec := &model.GeneratedRecord{
		Index:  index,
		Data:   make(map[string]any, len(req.Fields)),
		Status: model.RecordStatusSuccess,
	}

	var missing []model.EnrichmentField
	for _, f := range req.Fields {
		kf := cand.Fields[f.Name]
		// Contact fields are never published from model knowledge, however
		// confident the knowledge phase was; they always go through the
		// scrape path.
		if !agent.IsContactField(f) && o.thresholds.Trusted(kf) {
			rec.Data[f.Name] = kf.Value
			rec.Sources = append(rec.Sources, model.SourceAttribution{
				Field:      f.Name,
				URL:        model.SourceModelKnowledge,
				Confidence: kf.Confidence,
			})
			continue
		}
		missing = append(missing, f)
	}

	if len(missing) == 0 {
		return rec, nil
	}

	res, err := o.strategy.EnrichEntity(ctx, cand, missing)
	if err != nil {
		if resilience.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		// Isolation: the entity keeps its knowledge-phase hints.
		zap.L().Warn("entity enrichment failed",
			zap.String("job_id", jobID),
			zap.Int("index", index),
			zap.Error(err),
		)
		res = nil
	}

	for _, f := range missing {
		if res != nil {
			if ef, ok := res.Fields[f.Name]; ok && ef.Value != nil {
				rec.Data[f.Name] = ef.Value
				continue
			}
		}
		// Unenriched fields carry the untrusted knowledge hint, if any,
		// with no attribution. Contact fields get no hint at all; a
		// model-knowledge email or phone is worse than a null.
		if agent.IsContactField(f) {
			rec.Data[f.Name] = nil
			continue
		}
		rec.Data[f.Name] = cand.Fields[f.Name].Value
	}
	if res != nil {
		rec.Sources = append(rec.Sources, res.Sources...)
		o.addUsage(jobID, res.Usage)
	}
	return rec, nil
}

// stopRequested reports whether the job was cancelled or its context ended.
func (o *Orchestrator) stopRequested(ctx context.Context, jobID string) bool {
	return ctx.Err() != nil || o.jobs.IsCancelled(jobID)
}

// finishWithError marks the job failed unless it was cancelled first. The
// provider's message is surfaced verbatim for the polling client.
func (o *Orchestrator) finishWithError(jobID string, log *zap.Logger, err error, context string) {
	if o.jobs.IsCancelled(jobID) {
		log.Info("job cancelled mid-flight")
		return
	}
	log.Error(context, zap.Error(err))
	_ = o.jobs.Fail(jobID, eris.Wrap(err, context).Error())
}

func (o *Orchestrator) addUsage(jobID string, usage anthropic.TokenUsage) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	_ = o.jobs.AddUsage(jobID, usage.InputTokens, usage.OutputTokens, usage.EstimateCost(o.costModel))
}
