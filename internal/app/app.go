// Package app assembles the evaluation service from configuration. Both
// binaries build their dependencies here.
package app

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"english-eval-go/internal/aggregator"
	"english-eval-go/internal/auth"
	"english-eval-go/internal/config"
	"english-eval-go/internal/events"
	"english-eval-go/internal/extractor"
	"english-eval-go/internal/intake"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/pipeline"
	"english-eval-go/internal/store"
	"english-eval-go/internal/transcription"
)

type App struct {
	Config        *config.Config
	Store         store.Store
	Directory     auth.Directory
	Authenticator *auth.Authenticator
	Events        events.Publisher
	Pipeline      *pipeline.Orchestrator

	db *gorm.DB
}

// Build wires every component. Callers must Close the result.
func Build(cfg *config.Config) (*App, error) {
	log := logger.Component("app")
	loc := cfg.Location()

	a := &App{Config: cfg}

	switch cfg.Database.Driver {
	case "mysql":
		db, err := store.OpenMySQL(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Store = store.NewGormStore(db, loc)
		a.Directory = auth.NewGormDirectory(db)
	default:
		log.Warn("using in-memory store, evaluations are lost on exit")
		a.Store = store.NewMemoryStore()
		a.Directory = MemoryDirectory(cfg.Auth.Tokens)
	}
	a.Authenticator = auth.NewAuthenticator(auth.StaticTokens(cfg.Auth.Tokens), a.Directory)

	rule, err := aggregator.NewRule(cfg.Aggregation.Method, cfg.Aggregation.Weights)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("aggregation: %w", err)
	}

	a.Events = events.Noop{}
	if cfg.Events.Enabled {
		mq, err := events.NewRabbitMQ(cfg.Events)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("events: %w", err)
		}
		a.Events = mq
	}

	prompts := extractor.NewPromptBuilder(nil)
	a.Pipeline = pipeline.New(pipeline.Deps{
		Validator:   intake.New(cfg.Upload.MaxBytes(), cfg.Upload.AllowedContentTypes),
		Transcriber: transcription.New(cfg.Transcription),
		Prompts:     prompts,
		Extractor:   extractor.NewExtractor(extractor.NewOpenAIProvider(cfg.Scoring), prompts, rule, cfg.Scoring),
		Store:       a.Store,
		Events:      a.Events,
		Location:    loc,
	})

	log.WithField("driver", cfg.Database.Driver).
		WithField("aggregation", cfg.Aggregation.Method).
		WithField("events", cfg.Events.Enabled).
		Info("application assembled")
	return a, nil
}

// Close releases the event channel and the database pool.
func (a *App) Close() {
	log := logger.Component("app")
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			log.WithError(err).Warn("closing event publisher")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.WithError(err).Warn("closing database")
			}
		}
	}
}

// MemoryDirectory builds a local employee directory from the token table.
// Each distinct email becomes an active employee; ids are assigned from 1
// in email order so they are stable across restarts.
func MemoryDirectory(tokens map[string]string) *auth.MemoryDirectory {
	seen := map[string]bool{}
	var emails []string
	for _, email := range tokens {
		e := strings.ToLower(strings.TrimSpace(email))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		emails = append(emails, e)
	}
	sort.Strings(emails)

	employees := make([]auth.Employee, 0, len(emails))
	for i, e := range emails {
		employees = append(employees, auth.Employee{ID: int64(i + 1), Email: e, Active: true})
	}
	return auth.NewMemoryDirectory(employees...)
}
