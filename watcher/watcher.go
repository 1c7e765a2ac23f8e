// Package watcher owns the subscription lifecycle: it opens the change feed,
// dispatches every new event down the notification and fan-out branches, and
// reopens the feed with a delay when it breaks.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"safety-listener/database"
	"safety-listener/email"
	"safety-listener/feed"
	"safety-listener/models"

	"github.com/apex/log"
)

// State of the watcher lifecycle
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateWatching
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateWatching:
		return "watching"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RecipientResolver finds the users to alert for a site
type RecipientResolver interface {
	Resolve(ctx context.Context, siteID string) ([]models.User, error)
}

// Deliverer sends a composed message to a set of recipients
type Deliverer interface {
	DeliverAll(ctx context.Context, recipients []models.User, event models.Event, msg models.Message) []models.DeliveryResult
}

// AlertPublisher fans an alert payload out to connected dashboard clients
type AlertPublisher interface {
	BroadcastAlert(payload models.AlertPayload)
}

// AlertBus forwards alerts to downstream consumers. Optional.
type AlertBus interface {
	PublishAlert(payload models.AlertPayload) error
}

// SiteNamer resolves a site id to its display name
type SiteNamer interface {
	GetSiteName(ctx context.Context, siteID string) (string, error)
}

// Watcher coordinates the event pipeline
type Watcher struct {
	feed         feed.Feed
	resolver     RecipientResolver
	deliverer    Deliverer
	publisher    AlertPublisher
	bus          AlertBus
	sites        SiteNamer
	restartDelay time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	wg         sync.WaitGroup
	dispatches sync.WaitGroup
}

// New creates a watcher. bus may be nil when the alert bus is disabled.
func New(f feed.Feed, resolver RecipientResolver, deliverer Deliverer,
	publisher AlertPublisher, bus AlertBus, sites SiteNamer, restartDelay time.Duration) *Watcher {
	return &Watcher{
		feed:         f,
		resolver:     resolver,
		deliverer:    deliverer,
		publisher:    publisher,
		bus:          bus,
		sites:        sites,
		restartDelay: restartDelay,
		state:        StateStopped,
	}
}

// State returns the current lifecycle state
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	old := w.state
	w.state = s
	w.mu.Unlock()
	if old != s {
		log.Infof("Watcher %s -> %s", old, s)
	}
}

// Start opens the feed and begins dispatching. Calling Start on a watcher
// that is not stopped is an error.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running (state %s)", w.state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state = StateStarting
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop closes the subscription and waits for the run loop and in-flight
// dispatches to wind down. No restart is scheduled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.dispatches.Wait()
	w.setState(StateStopped)
	log.Info("Watcher stopped")
}

// run drives subscribe / watch / restart until the context is cancelled
func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		w.setState(StateStarting)
		sub, err := w.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Failed to open feed subscription: %v", err)
			if !w.waitRestart(ctx) {
				return
			}
			continue
		}

		w.setState(StateWatching)
		w.watch(ctx, sub)
		sub.Close()

		if ctx.Err() != nil {
			return
		}
		if err := sub.Err(); err != nil {
			log.Errorf("Feed subscription broke: %v", err)
		}
		if !w.waitRestart(ctx) {
			return
		}
	}
}

// waitRestart sleeps for the restart delay; returns false when the watcher
// was stopped meanwhile
func (w *Watcher) waitRestart(ctx context.Context) bool {
	w.setState(StateRestarting)
	select {
	case <-time.After(w.restartDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// watch consumes records until the subscription closes. Dispatch runs in its
// own goroutine per record so a slow event never blocks the feed.
func (w *Watcher) watch(ctx context.Context, sub feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.Records():
			if !ok {
				return
			}
			event := rec.Snapshot()
			w.dispatches.Add(1)
			go func() {
				defer w.dispatches.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("Dispatch for event %s panicked: %v", event.ID, r)
					}
				}()
				w.dispatch(ctx, event)
			}()
		}
	}
}

// dispatch runs the full per-event processing for one change record
func (w *Watcher) dispatch(ctx context.Context, event models.Event) {
	if event.Handled() {
		log.Debugf("Event %s already handled, suppressing notification", event.ID)
		return
	}

	siteName := w.siteName(ctx, event.SiteID)
	payload := buildAlertPayload(event, siteName)

	// The fan-out branch and the notification branch are independent
	// side effects of the same record; neither waits on the other. The
	// join below exists only so panics and logs stay attributable.
	var branches sync.WaitGroup
	branches.Add(2)

	go func() {
		defer branches.Done()
		defer logPanic(event.ID, "fan-out")
		w.publisher.BroadcastAlert(payload)
		if w.bus != nil {
			if err := w.bus.PublishAlert(payload); err != nil {
				log.WithField("event_id", event.ID).Warnf("Alert bus publish failed: %v", err)
			}
		}
	}()

	go func() {
		defer branches.Done()
		defer logPanic(event.ID, "notification")
		w.notify(ctx, event, siteName)
	}()

	branches.Wait()
}

// notify runs resolve -> compose -> deliver for one event
func (w *Watcher) notify(ctx context.Context, event models.Event, siteName string) {
	recipients, err := w.resolver.Resolve(ctx, event.SiteID)
	if err != nil {
		if errors.Is(err, database.ErrSiteNotFound) {
			// Already logged by the resolver; nothing to send
			return
		}
		log.WithField("event_id", event.ID).Errorf("Recipient resolution failed: %v", err)
		return
	}
	if len(recipients) == 0 {
		log.WithField("event_id", event.ID).WithField("site_id", event.SiteID).
			Info("No eligible recipients, nothing to send")
		return
	}

	msg := email.Compose(event, siteName)
	results := w.deliverer.DeliverAll(ctx, recipients, event, msg)

	delivered := 0
	for _, result := range results {
		if result.Delivered {
			delivered++
		}
	}
	log.WithField("event_id", event.ID).
		Infof("Notification fan-out complete: %d/%d delivered", delivered, len(results))
}

// siteName resolves the display name best-effort; a missing name never
// blocks dispatch
func (w *Watcher) siteName(ctx context.Context, siteID string) string {
	name, err := w.sites.GetSiteName(ctx, siteID)
	if err != nil {
		if !errors.Is(err, database.ErrSiteNotFound) {
			log.Warnf("Failed to resolve name for site %s: %v", siteID, err)
		}
		return siteID
	}
	return name
}

func buildAlertPayload(event models.Event, siteName string) models.AlertPayload {
	return models.AlertPayload{
		Message:        fmt.Sprintf("New safety event detected at %s", siteName),
		Timestamp:      event.DetectedAt,
		SiteID:         event.SiteID,
		AreaID:         event.AreaID,
		Details:        event.Details,
		ImageURL:       event.ImageURL,
		NoHardhatCount: event.NoHardhatCount,
	}
}

func logPanic(eventID, branch string) {
	if r := recover(); r != nil {
		log.Errorf("%s branch for event %s panicked: %v", branch, eventID, r)
	}
}
