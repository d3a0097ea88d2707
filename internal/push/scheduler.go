package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mhutchison/packrat/internal/store"
)

// Scheduler periodically checks for due disposal reminders and delivers them
// as push notifications. Each reminder is sent once; the notified timestamp
// on the reminder row is the dedupe record.
type Scheduler struct {
	mu       sync.RWMutex
	service  *Service
	push     *store.PushStore
	trash    *store.TrashStore
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a reminder scheduler ticking once a minute.
func NewScheduler(svc *Service, pushStore *store.PushStore, trashStore *store.TrashStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  svc,
		push:     pushStore,
		trash:    trashStore,
		interval: 60 * time.Second,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// tick sends notifications for reminders whose removal estimate is within a
// day, so people hear about decomposing items before the window closes.
func (s *Scheduler) tick() {
	cutoff := time.Now().UTC().Add(24 * time.Hour)
	due, err := s.trash.ListDueReminders(cutoff)
	if err != nil {
		s.logger.Error("list due reminders", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	subs, err := s.push.List()
	if err != nil {
		s.logger.Error("list push subscriptions", "error", err)
		return
	}

	for _, reminder := range due {
		payload := Payload{
			Title: "Disposal reminder",
			Body:  fmt.Sprintf("%s should be taken out by %s", reminder.ItemName, reminder.EstimatedRemovalDate.Format("Jan 2")),
			Tag:   "disposal-" + reminder.ItemID,
		}

		for i := range subs {
			if err := s.service.Send(&subs[i], payload); err != nil {
				if errors.Is(err, ErrExpired) {
					if derr := s.push.DeleteByEndpoint(subs[i].Endpoint); derr != nil {
						s.logger.Error("drop expired subscription", "error", derr)
					}
				} else {
					s.logger.Error("send disposal reminder", "reminder", reminder.ID, "error", err)
				}
			}
		}

		if err := s.trash.MarkReminderNotified(reminder.ID, time.Now().UTC()); err != nil {
			s.logger.Error("mark reminder notified", "reminder", reminder.ID, "error", err)
		}
	}
}
