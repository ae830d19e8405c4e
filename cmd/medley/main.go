// Command medley runs the media server: database, event bus, module
// system, HTTP surface. Configuration comes from MEDLEY_CONFIG_PATH or
// the default yaml locations, with environment overrides on top.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/server"

	// Modules register themselves on import.
	_ "github.com/medley-tv/medley/internal/modules/assetmodule"
	_ "github.com/medley-tv/medley/internal/modules/jobmodule"
	_ "github.com/medley-tv/medley/internal/modules/librarymodule"
	_ "github.com/medley-tv/medley/internal/modules/metadatamodule"
	_ "github.com/medley-tv/medley/internal/modules/playbackmodule"
	_ "github.com/medley-tv/medley/internal/modules/playlistmodule"
	_ "github.com/medley-tv/medley/internal/modules/pluginmodule"
	_ "github.com/medley-tv/medley/internal/modules/scannermodule"
	_ "github.com/medley-tv/medley/internal/modules/subtitlemodule"
	_ "github.com/medley-tv/medley/internal/modules/transcodemodule"
	_ "github.com/medley-tv/medley/internal/modules/trickplaymodule"
)

func main() {
	fmt.Println("=====================================")
	fmt.Println("  Medley Media Server                ")
	fmt.Println("=====================================")

	configPath := resolveConfigPath()
	if err := config.Load(configPath); err != nil {
		log.Printf("⚠️  Failed to load configuration from %s: %v", configPath, err)
		log.Printf("Using default configuration")
	}
	cfg := config.Get()
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	if err := database.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	// The bus must exist before modules load; module Init subscribes
	// and publishes through the global instance.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewEventBus(events.DefaultEventBusConfig(), busLogger{})
	if err := bus.Start(ctx); err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	events.SetGlobalEventBus(bus)

	if err := modulemanager.LoadAll(db); err != nil {
		log.Fatalf("Failed to load modules: %v", err)
	}

	srv := server.New(cfg, db, bus)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		// Modules stop before the bus so shutdown-time events still
		// reach subscribers.
		modulemanager.Shutdown(shutdownCtx)

		if err := bus.Stop(shutdownCtx); err != nil {
			log.Printf("Event bus shutdown error: %v", err)
		}
		cancel()
	}()

	bus.PublishAsync(events.Event{
		Type:     events.EventSystemStarted,
		Source:   "system",
		Title:    "Server Started",
		Priority: events.PriorityNormal,
	})

	if err := srv.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}

// resolveConfigPath picks the config file: explicit env var first, then
// the data-dir default, then the working directory.
func resolveConfigPath() string {
	if path := os.Getenv("MEDLEY_CONFIG_PATH"); path != "" {
		return path
	}
	for _, candidate := range []string{"/app/medley-data/medley.yaml", "./medley.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// busLogger adapts the process logger to the event bus logging
// interface, flattening key-value pairs into the message line.
type busLogger struct{}

func (busLogger) Debug(msg string, fields ...interface{}) { logger.Debug("%s", flatten(msg, fields)) }
func (busLogger) Info(msg string, fields ...interface{})  { logger.Info("%s", flatten(msg, fields)) }
func (busLogger) Warn(msg string, fields ...interface{})  { logger.Warn("%s", flatten(msg, fields)) }
func (busLogger) Error(msg string, fields ...interface{}) { logger.Error("%s", flatten(msg, fields)) }

func flatten(msg string, fields []interface{}) string {
	if len(fields) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", fields[i], fields[i+1])
	}
	return sb.String()
}
