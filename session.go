package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Run is one moderation session over one channel. It owns the ordered
// item list and the background worker that drives every item through the
// state machine. The item slice is mutated only under mu; the worker and
// the batch reconciler are the only writers.
type Run struct {
	channel     string
	limit       int
	humanReview bool

	queue      QueueSource
	classifier Classifier
	emit       Emitter
	history    *History

	applyPause time.Duration
	batchPause time.Duration
	pause      func(time.Duration)
	onComplete func(channel string, processed int)

	mu    sync.Mutex
	items []*Item
	done  chan struct{}

	// batchMu serializes whole batch submissions so two concurrent
	// submissions cannot both claim the same awaiting item.
	batchMu sync.Mutex
}

type RunOptions struct {
	Channel     string
	Limit       int
	HumanReview bool
	Queue       QueueSource
	Classifier  Classifier
	Emitter     Emitter

	// Inter-call pauses after mutating provider calls. Auto mode and
	// batch mode are separately tunable.
	ApplyPause time.Duration
	BatchPause time.Duration

	History    *History                            // optional audit trail
	OnComplete func(channel string, processed int) // optional, fired at the terminal event
}

func NewRun(opts RunOptions) *Run {
	return &Run{
		channel:     opts.Channel,
		limit:       opts.Limit,
		humanReview: opts.HumanReview,
		queue:       opts.Queue,
		classifier:  opts.Classifier,
		emit:        opts.Emitter,
		history:     opts.History,
		applyPause:  opts.ApplyPause,
		batchPause:  opts.BatchPause,
		pause:       time.Sleep,
		onComplete:  opts.OnComplete,
		done:        make(chan struct{}),
	}
}

func (r *Run) Channel() string { return r.channel }

// Done is closed when the worker has emitted its terminal event.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Start launches the background worker and returns immediately. The
// emitter is the only coordination surface with the rest of the process.
func (r *Run) Start() {
	go r.work(context.Background())
}

func (r *Run) work(ctx context.Context) {
	defer close(r.done)

	start := time.Now()
	log.Printf("run start channel=%s limit=%d human_review=%t", r.channel, r.limit, r.humanReview)
	emitStatus(r.emit, "info", fmt.Sprintf("Checking mod queue for r/%s...", r.channel))

	items, err := r.queue.FetchPending(ctx, r.channel, r.limit)
	if err != nil {
		// Fetch failure aborts the run before any item exists: one error
		// event, no partial state.
		log.Printf("run fetch error channel=%s: %v", r.channel, err)
		emitError(r.emit, fmt.Sprintf("Error moderating r/%s: %v", r.channel, err))
		return
	}

	if len(items) == 0 {
		emitStatus(r.emit, "info", "Mod queue is empty!")
		r.emit.Emit(Event{Kind: EventCompletion, Payload: CompletionPayload{
			Message:        fmt.Sprintf("Moderation complete for r/%s!", r.channel),
			ProcessedCount: 0,
		}})
		return
	}

	r.mu.Lock()
	r.items = items
	r.mu.Unlock()

	emitStatus(r.emit, "success", fmt.Sprintf("Found %d items in mod queue", len(items)))

	// Items are classified strictly in fetch order so an observer can
	// correlate the live feed with a fixed-position list.
	for _, item := range items {
		r.setState(item, StateAnalyzing)
		r.emit.Emit(Event{Kind: EventItemAnalyzing, Payload: ItemAnalyzingPayload{
			Ordinal:      item.Ordinal,
			TotalItems:   len(items),
			Kind:         item.Kind,
			Title:        item.Title,
			Author:       item.Author,
			Score:        item.Score,
			Preview:      item.Preview(),
			FullBody:     item.Body,
			URL:          item.URL(),
			Reports:      item.Reports,
			PriorRemoval: item.PriorRemoval,
			CreatedAt:    item.CreatedAt.Unix(),
		}})

		verdict := r.classifier.Classify(ctx, ClassifyRequest{
			Title:   item.Title,
			Body:    item.Body,
			Author:  item.Author,
			Score:   item.Score,
			Channel: r.channel,
		})

		r.mu.Lock()
		item.Verdict = &verdict
		item.State = StateAnalyzed
		r.mu.Unlock()

		r.emit.Emit(Event{Kind: EventVerdictRendered, Payload: VerdictRenderedPayload{
			Ordinal:    item.Ordinal,
			Action:     verdict.Action,
			Reason:     verdict.Reason,
			Confidence: verdict.Confidence,
		}})

		if r.humanReview {
			r.setState(item, StateAwaitingHuman)
			r.emit.Emit(Event{Kind: EventActionResult, Payload: ActionResultPayload{
				Ordinal:     item.Ordinal,
				Action:      verdict.Action,
				Applied:     false,
				HumanReview: true,
			}})
			continue
		}

		applyErr := r.queue.Apply(ctx, item, verdict.Action)
		result := ActionResultPayload{Ordinal: item.Ordinal, Action: verdict.Action}
		if applyErr != nil {
			// One failed apply fails only this item; the run continues.
			r.mu.Lock()
			item.State = StateFailed
			item.FailureReason = applyErr.Error()
			r.mu.Unlock()
			result.Error = applyErr.Error()
			log.Printf("run apply error channel=%s ordinal=%d: %v", r.channel, item.Ordinal, applyErr)
		} else {
			r.setState(item, StateAutoApplied)
			result.Applied = true
		}
		r.emit.Emit(Event{Kind: EventActionResult, Payload: result})
		r.record(item, verdict.Action, "auto", applyErr)

		// Provider rate policy: pause after mutating calls only.
		r.pause(r.applyPause)
	}

	processed := len(items)
	r.emit.Emit(Event{Kind: EventCompletion, Payload: CompletionPayload{
		Message:        fmt.Sprintf("Moderation complete for r/%s!", r.channel),
		ProcessedCount: processed,
	}})
	log.Printf("run done channel=%s processed=%d elapsed=%s", r.channel, processed, time.Since(start).Round(time.Millisecond))

	if r.onComplete != nil {
		r.onComplete(r.channel, processed)
	}
}

func (r *Run) setState(item *Item, state ItemState) {
	r.mu.Lock()
	item.State = state
	r.mu.Unlock()
}

// ItemByOrdinal resolves a human decision's addressing key against the
// current fetched set. Nil means the ordinal is stale.
func (r *Run) ItemByOrdinal(ordinal int) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ordinal < 1 || ordinal > len(r.items) {
		return nil
	}
	return r.items[ordinal-1]
}

func (r *Run) itemState(item *Item) ItemState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return item.State
}

func (r *Run) record(item *Item, action Action, mode string, applyErr error) {
	if r.history == nil {
		return
	}
	rec := ActionRecord{
		Channel: r.channel,
		Ordinal: item.Ordinal,
		Kind:    item.Kind,
		Title:   item.Title,
		Author:  item.Author,
		Action:  action,
		Mode:    mode,
		Success: applyErr == nil,
	}
	if applyErr != nil {
		rec.Error = applyErr.Error()
	}
	r.history.Record(rec)
}
