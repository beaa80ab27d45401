package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
)

// ProcessBatch applies a reviewer's decision mapping against the run's
// fetched set. Ordinals are visited in ascending order; ordinals that do
// not resolve to an item still awaiting a decision are dropped silently
// (stale references from a prior fetch are not an error). Returns the
// count of successfully processed decisions.
//
// Dry-run semantics, pinned: no provider call is made, item states do not
// change, and every targeted item still gets a batchProgress event with
// success=true and dryRun=true.
func (r *Run) ProcessBatch(ctx context.Context, decisions map[int]Decision, dryRun bool) int {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()

	ordinals := make([]int, 0, len(decisions))
	for ordinal := range decisions {
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)

	processed := 0
	for _, ordinal := range ordinals {
		item := r.ItemByOrdinal(ordinal)
		if item == nil {
			log.Printf("batch stale ordinal=%d channel=%s dropped", ordinal, r.channel)
			continue
		}
		if r.itemState(item) != StateAwaitingHuman {
			// Already applied, skipped or failed by an earlier submission.
			continue
		}

		decision := decisions[ordinal]
		if decision == DecisionSkip {
			if !dryRun {
				r.setState(item, StateSkipped)
			}
			continue
		}

		action, ok := decision.ToAction()
		if !ok {
			emitError(r.emit, fmt.Sprintf("Unknown decision %q for item %d", decision, ordinal))
			continue
		}

		if dryRun {
			r.emit.Emit(Event{Kind: EventBatchProgress, Payload: BatchProgressPayload{
				Ordinal: ordinal,
				Action:  action,
				Success: true,
				DryRun:  true,
			}})
			processed++
			continue
		}

		r.setState(item, StateHumanDecided)
		applyErr := r.queue.Apply(ctx, item, action)

		progress := BatchProgressPayload{Ordinal: ordinal, Action: action}
		if applyErr != nil {
			r.mu.Lock()
			item.State = StateFailed
			item.FailureReason = applyErr.Error()
			r.mu.Unlock()
			progress.Error = applyErr.Error()
			log.Printf("batch apply error channel=%s ordinal=%d: %v", r.channel, ordinal, applyErr)
		} else {
			r.setState(item, StateApplied)
			progress.Success = true
			processed++
		}
		r.emit.Emit(Event{Kind: EventBatchProgress, Payload: progress})
		r.record(item, action, "human", applyErr)

		// Apply calls are serialized against the provider's per-identity
		// rate ceiling.
		r.pause(r.batchPause)
	}

	r.emit.Emit(Event{Kind: EventCompletion, Payload: CompletionPayload{
		Message:        fmt.Sprintf("Processed %d actions successfully", processed),
		ProcessedCount: processed,
	}})
	return processed
}

// parseDecisionKeys converts the wire mapping (JSON object keys are
// strings) into ordinal keys. Unparseable keys are dropped like stale
// ordinals.
func parseDecisionKeys(raw map[string]Decision) map[int]Decision {
	decisions := make(map[int]Decision, len(raw))
	for key, decision := range raw {
		ordinal, err := strconv.Atoi(key)
		if err != nil {
			log.Printf("batch ignoring non-numeric ordinal key %q", key)
			continue
		}
		decisions[ordinal] = decision
	}
	return decisions
}
