package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/domain"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
)

const dateFormat = "Jan 2, 2006 15:04 MST"

// PageSource provides page display attributes and component names.
type PageSource interface {
	GetPage(ctx context.Context, id int64) (*domain.Page, error)
	ComponentNames(ctx context.Context, ids []int64) ([]string, error)
}

// SubscriberSource lists deliverable subscribers for a page: accepted and
// not unsubscribed.
type SubscriberSource interface {
	ListAcceptedForPage(ctx context.Context, pageID int64) ([]domain.Subscriber, error)
}

// EventSource loads the aggregates that trigger notifications.
type EventSource interface {
	GetReportUpdate(ctx context.Context, updateID int64) (*domain.ReportUpdate, *domain.StatusReport, error)
	GetMaintenance(ctx context.Context, id int64) (*domain.Maintenance, error)
}

// Dispatcher resolves matching subscribers for an event and fans delivery
// out across channels. Dispatch is best-effort: every failure is logged and
// confined here so the write path that produced the event is never
// destabilized. No method reports an error to its caller.
type Dispatcher struct {
	pages       PageSource
	subscribers SubscriberSource
	events      EventSource
	registry    *Registry
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(pages PageSource, subscribers SubscriberSource, events EventSource, registry *Registry) *Dispatcher {
	return &Dispatcher{
		pages:       pages,
		subscribers: subscribers,
		events:      events,
		registry:    registry,
	}
}

// DispatchReportUpdate notifies subscribers about a status report update.
func (d *Dispatcher) DispatchReportUpdate(ctx context.Context, updateID int64) {
	log := ctxlog.FromContext(ctx)

	update, report, err := d.events.GetReportUpdate(ctx, updateID)
	if err != nil {
		log.Warn("report update not dispatchable", "update_id", updateID, "error", err)
		return
	}
	if report == nil || report.PageID == 0 {
		log.Warn("report update has no page, skipping dispatch", "update_id", updateID)
		return
	}

	recordDispatch("report_update")

	d.DispatchPageUpdate(ctx, PageUpdateEvent{
		ID:           update.ID,
		PageID:       report.PageID,
		Title:        report.Title,
		Status:       update.Status,
		Message:      update.Message,
		ComponentIDs: report.ComponentIDs,
		Date:         update.CreatedAt.UTC().Format(dateFormat),
	})
}

// DispatchMaintenanceUpdate notifies subscribers about a maintenance window.
// Maintenance events always carry the fixed "maintenance" status and render
// their date as a from-to range.
func (d *Dispatcher) DispatchMaintenanceUpdate(ctx context.Context, id int64) {
	log := ctxlog.FromContext(ctx)

	m, err := d.events.GetMaintenance(ctx, id)
	if err != nil {
		log.Warn("maintenance not dispatchable", "maintenance_id", id, "error", err)
		return
	}
	if m.PageID == 0 {
		log.Warn("maintenance has no page, skipping dispatch", "maintenance_id", id)
		return
	}

	recordDispatch("maintenance")

	d.DispatchPageUpdate(ctx, PageUpdateEvent{
		ID:           m.ID,
		PageID:       m.PageID,
		Title:        m.Title,
		Status:       domain.ReportStatusMaintenance,
		Message:      m.Message,
		ComponentIDs: m.ComponentIDs,
		Date: fmt.Sprintf("%s - %s",
			m.StartsAt.UTC().Format(dateFormat),
			m.EndsAt.UTC().Format(dateFormat)),
	})
}

// DispatchPageUpdate fans the event out to every matching subscriber,
// grouped by channel. Channel groups run concurrently; one group's failure
// never cancels another.
func (d *Dispatcher) DispatchPageUpdate(ctx context.Context, event PageUpdateEvent) {
	log := ctxlog.FromContext(ctx)

	page, err := d.pages.GetPage(ctx, event.PageID)
	if err != nil {
		log.Warn("page not found for dispatch", "page_id", event.PageID, "error", err)
		return
	}
	event.PageName = page.Name

	if len(event.ComponentIDs) > 0 && len(event.ComponentNames) == 0 {
		names, err := d.pages.ComponentNames(ctx, event.ComponentIDs)
		if err != nil {
			log.Warn("failed to resolve component names", "page_id", event.PageID, "error", err)
		} else {
			event.ComponentNames = names
		}
	}

	subs, err := d.subscribers.ListAcceptedForPage(ctx, event.PageID)
	if err != nil {
		log.Error("failed to load subscribers", "page_id", event.PageID, "error", err)
		return
	}

	matched := make([]domain.Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.MatchesComponents(event.ComponentIDs) {
			matched = append(matched, sub)
		}
	}

	if len(matched) == 0 {
		log.Debug("no matching subscribers", "page_id", event.PageID, "event_id", event.ID)
		return
	}

	byChannel := make(map[domain.ChannelType][]domain.Subscriber)
	for _, sub := range matched {
		byChannel[sub.Channel] = append(byChannel[sub.Channel], sub)
	}

	var wg sync.WaitGroup
	for channelType, group := range byChannel {
		ch, ok := d.registry.Get(channelType)
		if !ok {
			log.Warn("no channel implementation, skipping group",
				"channel_type", channelType,
				"subscribers", len(group),
			)
			recordSend(string(channelType), "skipped_unknown")
			continue
		}

		wg.Add(1)
		go func(ch Channel, group []domain.Subscriber) {
			defer wg.Done()

			start := time.Now()
			err := ch.SendNotifications(ctx, group, event)
			recordSendDuration(string(ch.Type()), time.Since(start))

			if err != nil {
				log.Error("channel send failed",
					"channel_type", ch.Type(),
					"subscribers", len(group),
					"event_id", event.ID,
					"error", err,
				)
				recordSend(string(ch.Type()), "failed")
				return
			}

			recordSend(string(ch.Type()), "success")
			log.Info("notifications sent",
				"channel_type", ch.Type(),
				"subscribers", len(group),
				"event_id", event.ID,
			)
		}(ch, group)
	}
	wg.Wait()
}
