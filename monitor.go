package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartMonitorScheduler runs unattended auto-mode sweeps of the
// configured channels on a cron schedule. Each sweep authenticates with
// the configured script credentials and processes every channel
// sequentially; no observer is attached, progress goes to the log.
func StartMonitorScheduler(cfg Config, llm AssistantClient, history *History, notifier *Notifier) {
	schedule := strings.TrimSpace(cfg.MonitorSchedule)
	if schedule == "" {
		log.Println("Scheduled moderation disabled (monitor_schedule not set)")
		return
	}
	if !cfg.ScriptCredsConfigured() {
		log.Println("Scheduled moderation disabled: reddit credentials not configured")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid monitor_schedule '%s': %v, scheduled moderation disabled", schedule, err)
		return
	}

	log.Printf("Scheduled moderation (cron: %s) for %s", schedule, strings.Join(cfg.MonitorChannels, ", "))

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next moderation sweep at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)
			runMonitorSweep(cfg, llm, history, notifier)
		}
	}()
}

func runMonitorSweep(cfg Config, llm AssistantClient, history *History, notifier *Notifier) {
	ctx := context.Background()

	auth := newAuthExchanger(cfg)
	token, identity, err := auth.ExchangeCredentials(ctx, cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUsername)
	if err != nil {
		log.Printf("monitor auth error: %v", err)
		return
	}

	queue := NewRedditClient(token, identity, cfg.RedditUserAgent, cfg.ExternalTimeout())
	for _, channel := range cfg.MonitorChannels {
		run := NewRun(RunOptions{
			Channel:     channel,
			Limit:       cfg.MonitorItemLimit,
			HumanReview: false,
			Queue:       queue,
			Classifier:  llm,
			Emitter:     logEmitter{},
			ApplyPause:  cfg.ApplyPause(),
			BatchPause:  cfg.BatchPause(),
			History:     history,
			OnComplete:  notifier.RunComplete,
		})
		run.Start()
		<-run.Done()
	}
}

// logEmitter is the observer for unattended sweeps.
type logEmitter struct{}

func (logEmitter) Emit(ev Event) {
	log.Printf("monitor event kind=%s payload=%+v", ev.Kind, ev.Payload)
}
