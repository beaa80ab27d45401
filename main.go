package main

import (
	"log"
	"net/http"
)

func main() {
	cfg := LoadConfig()

	history, err := OpenHistory(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer history.Close()

	llm := NewVerdictClient(cfg)
	notifier := NewNotifier(cfg)

	StartMonitorScheduler(cfg, llm, history, notifier)

	srv := NewServer(cfg, llm, history, notifier)
	log.Printf("Starting moderation dashboard on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Routes()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
