package service

import (
	"context"
	"fmt"

	"safety-listener/config"
	"safety-listener/database"
	"safety-listener/email"
	"safety-listener/feed"
	"safety-listener/handlers"
	"safety-listener/rabbitmq"
	"safety-listener/recipients"
	"safety-listener/watcher"
	"safety-listener/websocket"

	"github.com/apex/log"
)

// Service wires the pipeline together and owns its lifecycle
type Service struct {
	config   *config.Config
	db       *database.Database
	hub      *websocket.Hub
	watcher  *watcher.Watcher
	bus      *rabbitmq.Publisher
	handlers *handlers.Handlers
}

// NewService constructs the pipeline. Configuration errors here are fatal;
// the watcher is never started with incomplete store or mail settings.
func NewService(cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub()

	var bus *rabbitmq.Publisher
	if cfg.AMQPURL != "" {
		bus, err = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect alert bus: %w", err)
		}
	}

	resolver := recipients.NewResolver(db)
	sender := email.NewSender(email.NewSendGridTransport(cfg), cfg)
	eventFeed := feed.NewPollingFeed(db, cfg.PollInterval)

	var busForWatcher watcher.AlertBus
	if bus != nil {
		busForWatcher = bus
	}
	w := watcher.New(eventFeed, resolver, sender, hub, busForWatcher, db, cfg.RestartDelay)

	return &Service{
		config:   cfg,
		db:       db,
		hub:      hub,
		watcher:  w,
		bus:      bus,
		handlers: handlers.NewHandlers(hub, db),
	}, nil
}

// Start starts the hub and the watcher
func (s *Service) Start() error {
	log.Info("Starting safety listener service...")

	if err := s.db.EnsureTables(context.Background()); err != nil {
		return err
	}

	go s.hub.Run()

	if err := s.watcher.Start(); err != nil {
		return err
	}

	log.Info("Safety listener service started successfully")
	return nil
}

// Stop stops the watcher and releases connections
func (s *Service) Stop() error {
	log.Info("Stopping safety listener service...")

	s.watcher.Stop()

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Warnf("Error closing alert bus: %v", err)
		}
	}

	if err := s.db.Close(); err != nil {
		log.Warnf("Error closing database: %v", err)
	}

	log.Info("Safety listener service stopped")
	return nil
}

// GetHandlers returns the HTTP handlers
func (s *Service) GetHandlers() *handlers.Handlers {
	return s.handlers
}

// WatcherState reports the coordinator's lifecycle state
func (s *Service) WatcherState() watcher.State {
	return s.watcher.State()
}
