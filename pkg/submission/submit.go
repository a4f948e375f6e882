package submission

import (
	"context"
	"fmt"

	"github.com/moonshinevfx/4drec-go/pkg/cloudsync"
	"github.com/moonshinevfx/4drec-go/pkg/entity"
	"github.com/moonshinevfx/4drec-go/pkg/farm"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// Order describes one submission request.
type Order struct {
	JobFolder    string
	StartFrame   int
	EndFrame     int
	OffsetFrame  int
	ResolveOnly  bool
	Sheet        Sheet
}

// Submitter builds and submits the linear stage graph for a Job, rolling
// back on any stage failure.
type Submitter struct {
	driver   farm.Driver
	store    *entity.Store
	notifier cloudsync.Notifier
	log      *logger.Logger
}

// New builds a Submitter.
func New(driver farm.Driver, store *entity.Store, notifier cloudsync.Notifier, log *logger.Logger) *Submitter {
	return &Submitter{driver: driver, store: store, notifier: notifier, log: log}
}

// Submit composes the stage graph per §4.I: initialize (single-frame) →
// resolve (chunked, depends on initialize) → conversion (chunked,
// frame-dependent, depends on resolve; omitted if ResolveOnly) → export
// (single-frame, depends on the last prior stage). On any stage failure the
// whole chain is aborted, the Job entity and its folder are removed, and
// the cloud-sync notifier is told FAILED.
func (s *Submitter) Submit(ctx context.Context, jobID string, order Order) ([]farm.BatchID, error) {
	if err := Write(order.JobFolder, order.Sheet); err != nil {
		return nil, s.rollback(ctx, jobID, order.JobFolder, err)
	}

	yamlPath := WritePath(order.JobFolder)
	frames := fmt.Sprintf("%d-%d", order.StartFrame, order.EndFrame)

	var batchIDs []farm.BatchID

	initID, err := s.driver.Submit(ctx, farm.StageSpec{Stage: farm.StageInitialize, Frames: "0", YAMLPath: yamlPath})
	if err != nil {
		return nil, s.rollback(ctx, jobID, order.JobFolder, fmt.Errorf("submission: initialize stage: %w", err))
	}
	batchIDs = append(batchIDs, initID)

	resolveID, err := s.driver.Submit(ctx, farm.StageSpec{Stage: farm.StageResolve, Frames: frames, DependsOn: initID, YAMLPath: yamlPath})
	if err != nil {
		return nil, s.rollback(ctx, jobID, order.JobFolder, fmt.Errorf("submission: resolve stage: %w", err))
	}
	batchIDs = append(batchIDs, resolveID)

	lastID := resolveID
	if !order.ResolveOnly {
		conversionID, err := s.driver.Submit(ctx, farm.StageSpec{
			Stage: farm.StageConversion, Frames: frames, FrameDependent: true, DependsOn: resolveID, YAMLPath: yamlPath,
		})
		if err != nil {
			return nil, s.rollback(ctx, jobID, order.JobFolder, fmt.Errorf("submission: conversion stage: %w", err))
		}
		batchIDs = append(batchIDs, conversionID)
		lastID = conversionID
	}

	exportID, err := s.driver.Submit(ctx, farm.StageSpec{Stage: farm.StageExport, Frames: "0", DependsOn: lastID, YAMLPath: yamlPath})
	if err != nil {
		return nil, s.rollback(ctx, jobID, order.JobFolder, fmt.Errorf("submission: export stage: %w", err))
	}
	batchIDs = append(batchIDs, exportID)

	ids := make([]string, len(batchIDs))
	for i, id := range batchIDs {
		ids[i] = string(id)
	}
	if err := s.store.Update(jobID, map[string]any{"batch_ids": ids}); err != nil {
		return nil, s.rollback(ctx, jobID, order.JobFolder, err)
	}

	return batchIDs, nil
}

func (s *Submitter) rollback(ctx context.Context, jobID, jobFolder string, cause error) error {
	s.log.Error("submission: rolling back job", "job_id", jobID, "error", cause)
	if err := s.notifier.NotifyFailed(ctx, jobID, cause.Error()); err != nil {
		s.log.Error("cloudsync: notify failed errored", "error", err)
	}
	// Store.Remove also deletes the entity's on-disk folder (jobFolder).
	if err := s.store.Remove(jobID); err != nil {
		s.log.Error("submission: remove job entity failed", "error", err)
	}
	return cause
}
