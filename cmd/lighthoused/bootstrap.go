package main

import (
	"context"
	"log/slog"

	"lighthouse/internal/agenda"
	"lighthouse/internal/analysis"
	"lighthouse/internal/awsclient"
	"lighthouse/internal/config"
	"lighthouse/internal/conversion"
	"lighthouse/internal/daemon"
	"lighthouse/internal/delivery"
	"lighthouse/internal/ingest"
	"lighthouse/internal/jobs/invoke"
	"lighthouse/internal/jobs/mediaconvert"
	"lighthouse/internal/jobs/transcribe"
	"lighthouse/internal/media/ffprobe"
	"lighthouse/internal/meetings"
	"lighthouse/internal/notifications"
	"lighthouse/internal/queue"
	"lighthouse/internal/rendering"
	"lighthouse/internal/storage"
	"lighthouse/internal/transcription"
	"lighthouse/internal/verification"
	"lighthouse/internal/workflow"
)

// buildDaemon wires every processing dependency from configuration.
func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsclient.Load(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	objects := storage.New(awsCfg, cfg.Storage.Bucket, cfg.AWS.Endpoint)
	meetingStore := meetings.New(awsCfg, cfg.Meetings.Table, cfg.AWS.Endpoint)
	notifier := notifications.NewService(awsCfg, cfg)
	prober := ffprobe.New(cfg.FFprobeBinary())

	converter := mediaconvert.New(awsCfg, cfg.MediaConvert.RoleARN, cfg.MediaConvert.Queue, cfg.AWS.Endpoint)
	transcriber := transcribe.New(awsCfg, cfg.Transcribe.LanguageCode, cfg.Transcribe.MaxSpeakers, cfg.AWS.Endpoint)
	minutesWorker := invoke.New(awsCfg, cfg.Analysis.FunctionName, "analysis", cfg.AWS.Endpoint, objects.Exists)
	pdfWorker := invoke.New(awsCfg, cfg.Rendering.FunctionName, "rendering", cfg.AWS.Endpoint, objects.Exists)

	manager := workflow.NewManager(cfg, store, meetingStore, notifier, logger)
	manager.Configure(workflow.StageSet{
		Conversion:    conversion.New(cfg, objects, prober, converter, store, logger),
		Verification:  verification.New(cfg, objects, logger),
		Transcription: transcription.New(cfg, objects, transcriber, store, logger),
		Agenda:        agenda.New(cfg, objects, logger),
		Analysis:      analysis.New(cfg, objects, minutesWorker, store, logger),
		Rendering:     rendering.New(cfg, objects, pdfWorker, store, logger),
		Delivery:      delivery.New(cfg, objects, notifier, logger),
	})

	scanner := ingest.New(cfg, objects, store, logger)
	return daemon.New(cfg, store, manager, scanner, notifier, logger)
}
