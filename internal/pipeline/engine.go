// Package pipeline drives the three-stage retrieval flow: range search,
// per-resident contact-info fetch and decrypt, then mobile-contact extraction
// into the sink. One logical thread of control performs every step in strict
// sequence; the throttling waits between requests dominate any gain
// concurrency could offer here.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/imovelink/broker-contacts/internal/config"
	"github.com/imovelink/broker-contacts/internal/model"
	"github.com/imovelink/broker-contacts/internal/normalize"
	"github.com/imovelink/broker-contacts/internal/sink"
	"github.com/imovelink/broker-contacts/internal/store"
	"github.com/imovelink/broker-contacts/pkg/broker"
)

// Engine orchestrates scrape runs over street-number targets.
type Engine struct {
	client    broker.Client
	sink      *sink.CSV
	store     store.Store
	delays    *DelayPolicy
	step      int
	threshold int
	processed *ProcessedSet
}

// NewEngine creates an engine. st may be nil to skip run-history bookkeeping.
func NewEngine(client broker.Client, snk *sink.CSV, st store.Store, delays *DelayPolicy, cfg config.ScrapeConfig) *Engine {
	step := cfg.Step
	if step <= 0 {
		step = defaultStep
	}
	threshold := cfg.MaxConsecutiveErrors
	if threshold <= 0 {
		threshold = 5
	}
	return &Engine{
		client:    client,
		sink:      snk,
		store:     st,
		delays:    delays,
		step:      step,
		threshold: threshold,
		processed: NewProcessedSet(),
	}
}

// Run iterates the configured targets, aggregates counts, and guarantees
// sink teardown whether the run completes, aborts, or is interrupted.
// Already-flushed records survive every outcome.
func (e *Engine) Run(ctx context.Context, targets []model.TargetRange) (*model.RunResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))

	var runID string
	if e.store != nil {
		run, err := e.store.CreateRun(ctx, targets)
		if err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		} else {
			runID = run.ID
		}
	}

	defer func() {
		if err := e.sink.Close(); err != nil {
			log.Error("sink close failed", zap.Error(err))
		}
	}()

	result := &model.RunResult{}
	var runErr error

	for _, target := range targets {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		log.Info("starting target",
			zap.String("street", target.Street),
			zap.Int("city_id", target.CityID),
			zap.Int("start", target.Start),
			zap.Int("end", target.End),
		)

		stats, err := e.ScrapeTarget(ctx, target)
		result.Targets = append(result.Targets, stats)
		result.Raw += stats.Raw
		result.Accepted += stats.Accepted

		if err != nil {
			runErr = err
			break
		}

		log.Info("target complete",
			zap.String("street", target.Street),
			zap.Int("raw", stats.Raw),
			zap.Int("accepted", stats.Accepted),
		)
	}

	snkStats := e.sink.Stats()
	result.OutputFile = snkStats.File
	result.Distinct = snkStats.Distinct

	status := model.RunStatusComplete
	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status = model.RunStatusInterrupted
		result.Error = "interrupted"
	case runErr != nil:
		status = model.RunStatusFailed
		result.Error = runErr.Error()
	}

	if e.store != nil && runID != "" {
		// Bookkeeping must survive a cancelled run context.
		if err := e.store.UpdateRunResult(context.WithoutCancel(ctx), runID, status, result); err != nil {
			log.Warn("failed to record run result", zap.Error(err))
		}
	}

	log.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("raw", result.Raw),
		zap.Int("accepted", result.Accepted),
		zap.Int("targets", len(result.Targets)),
		zap.String("output_file", result.OutputFile),
	)

	return result, runErr
}

// ScrapeTarget partitions a target into sub-ranges and processes each one.
// Sub-ranges already attempted this run are skipped. A sub-range is marked
// attempted whether it succeeded or failed, before moving on.
func (e *Engine) ScrapeTarget(ctx context.Context, target model.TargetRange) (model.TargetStats, error) {
	log := zap.L().With(
		zap.String("component", "pipeline.engine"),
		zap.String("street", target.Street),
		zap.Int("city_id", target.CityID),
	)

	stats := model.TargetStats{Street: target.Street, CityID: target.CityID}

	step := target.Step
	if step <= 0 {
		step = e.step
	}

	// Consecutive failures across residents and sub-ranges; reset on every
	// accepted write.
	errCount := 0

	for _, span := range Partition(target.Start, target.End, step) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		key := RangeKey{Street: target.Street, Initial: span.Initial, Final: span.Final, CityID: target.CityID}
		if e.processed.Contains(key) {
			log.Debug("skipping processed sub-range", zap.Int("initial", span.Initial), zap.Int("final", span.Final))
			continue
		}

		log.Info("searching sub-range", zap.Int("initial", span.Initial), zap.Int("final", span.Final))

		residents, err := e.client.SearchResidents(ctx, target.Street, span.Initial, span.Final, target.CityID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			// A failed search degrades to "no residents" for this sub-range,
			// but repeated range-level failures abort the run.
			serr := NewStageError("search", KindTransport, err)
			log.Warn("search failed", zap.Error(serr))
			errCount++
			e.processed.Mark(key)
			if errCount >= e.threshold {
				return stats, ErrTooManyFailures
			}
		case len(residents) == 0:
			log.Debug("no residents in sub-range")
			e.processed.Mark(key)
		default:
			log.Info("found residents", zap.Int("count", len(residents)))
			if err := e.processResidents(ctx, log, target, residents, &errCount, &stats); err != nil {
				e.processed.Mark(key)
				return stats, err
			}
			e.processed.Mark(key)
		}

		if err := e.delays.Wait(ctx, DelayRange); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// processResidents runs the contact-info/decrypt/extract/submit sequence for
// every resident of a sub-range. Failures on a single resident increment
// errCount and processing continues; once errCount reaches the threshold the
// remainder of the sub-range is abandoned. Only sink I/O failures and ctx
// cancellation propagate.
func (e *Engine) processResidents(ctx context.Context, log *zap.Logger, target model.TargetRange, residents []broker.Resident, errCount *int, stats *model.TargetStats) error {
	for _, resident := range residents {
		if err := e.delays.Wait(ctx, DelaySearch); err != nil {
			return err
		}
		if err := e.delays.Wait(ctx, DelayContact); err != nil {
			return err
		}

		req := normalize.ContactRequest(resident, target.CityID)

		info, err := e.client.ContactInfo(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if abandon := e.residentFailure(log, NewStageError("contact", KindTransport, err), errCount); abandon {
				return nil
			}
			continue
		}

		if info == nil || info.Data == "" {
			log.Debug("no contact payload for resident", zap.String("number", req.Number))
			continue
		}

		if err := e.delays.Wait(ctx, DelayDecrypt); err != nil {
			return err
		}

		payload, err := e.client.ReadEncrypted(ctx, info.Data, info.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if abandon := e.residentFailure(log, NewStageError("decrypt", KindTransport, err), errCount); abandon {
				return nil
			}
			continue
		}

		contacts := ExtractMobileContacts(payload)
		stats.Raw += len(contacts)

		for _, c := range contacts {
			rec := model.OutputRecord{
				Street:       target.Street,
				Number:       req.Number,
				Name:         c.Name,
				Document:     c.Document,
				City:         req.City,
				Neighborhood: req.Neighborhood,
				UF:           req.UF,
				PhoneNumber:  c.PhoneNumber,
			}

			accepted, err := e.sink.Submit(rec)
			if err != nil {
				// Output file trouble is not survivable: anything "accepted"
				// from here on would be lost.
				return err
			}
			if accepted {
				stats.Accepted++
				*errCount = 0
			}
		}
	}

	return nil
}

// residentFailure logs a per-resident failure and reports whether the
// remainder of the current sub-range should be abandoned.
func (e *Engine) residentFailure(log *zap.Logger, err error, errCount *int) bool {
	*errCount++
	log.Warn("resident processing failed",
		zap.Error(err),
		zap.Int("consecutive_errors", *errCount),
	)
	if *errCount >= e.threshold {
		log.Warn("abandoning remainder of sub-range", zap.Int("consecutive_errors", *errCount))
		return true
	}
	return false
}
