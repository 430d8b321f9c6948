package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scanium/enricher/internal/app"
	"github.com/scanium/enricher/internal/config"
	"github.com/scanium/enricher/internal/logger"
	"github.com/scanium/enricher/internal/service"
	_ "golang.org/x/image/webp"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stderr,
		ServiceName: "scanium-enrich-cli",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	imagePath := flag.String("image", "", "Path to the item photo (jpeg, png or webp)")
	itemID := flag.String("item", "", "Item identifier")
	packID := flag.String("pack", "", "Domain pack id (defaults to the configured pack)")
	configPath := flag.String("config", "", "Path to config file")
	wait := flag.Duration("wait", 2*time.Minute, "Maximum time to wait for the job")
	hints := map[string]string{}
	flag.Func("hint", "User supplied attribute as key=value (repeatable)", func(v string) error {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("hint must be key=value, got %q", v)
		}
		hints[strings.TrimSpace(key)] = strings.TrimSpace(value)
		return nil
	})
	flag.Parse()

	if *imagePath == "" || *itemID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read image")
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		appLogger.WithError(err).Fatal("Unsupported image")
	}

	appLogger.WithFields(logger.Fields{
		"image":  *imagePath,
		"format": format,
		"item":   *itemID,
		"pack":   *packID,
	}).Info("Starting enrichment")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enricher, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize enrichment pipeline")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = enricher.Close(closeCtx)
	}()

	res, err := enricher.Pipeline.Submit(ctx, service.SubmitRequest{
		Image:        data,
		Format:       format,
		ItemID:       *itemID,
		DomainPackID: *packID,
		Hints:        hints,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Enrichment refused")
	}

	status, err := waitForTerminal(ctx, enricher.Pipeline, res.RequestID, *wait)
	if err != nil {
		appLogger.WithError(err).WithField(logger.FieldRequestID, res.RequestID).Error("Enrichment did not finish")
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		appLogger.WithError(err).Error("Failed to write result")
		return
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldRequestID: res.RequestID,
		logger.FieldStatus:    status.Stage,
	}).Info("Enrichment completed")
}

// waitForTerminal polls the pipeline the way a device would.
func waitForTerminal(ctx context.Context, p *service.Pipeline, requestID string, limit time.Duration) (*service.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := p.GetStatus(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if status.CompletedAt != nil {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
