package broadcast

import (
	"context"
	"sync"
	"time"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/metrics"
	"crisiswatch/pkg/models"
)

// ConnectionListener observes subscriber arrivals and departures, e.g. for
// audit logging or presence counters.
type ConnectionListener func(event string, subscriberID string)

// Hub fans broadcast messages out to subscribers by channel. Delivery is
// best effort: a subscriber that cannot keep up is disconnected rather than
// allowed to apply backpressure to the pipeline.
type Hub struct {
	cfg    config.BroadcastConfig
	logger logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	listeners   []ConnectionListener

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewHub(cfg config.BroadcastConfig, log logger.Logger) *Hub {
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = constants.DefaultHeartbeatPeriod
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = constants.DefaultStaleThreshold
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}

	return &Hub{
		cfg:         cfg,
		logger:      log,
		subscribers: make(map[string]*Subscriber),
		stopCh:      make(chan struct{}),
	}
}

func (h *Hub) SendBuffer() int {
	return h.cfg.SendBuffer
}

// Start launches the heartbeat and stale eviction loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.heartbeatLoop()
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()

		h.mu.Lock()
		subs := make([]*Subscriber, 0, len(h.subscribers))
		for _, s := range h.subscribers {
			subs = append(subs, s)
		}
		h.subscribers = make(map[string]*Subscriber)
		h.mu.Unlock()

		for _, s := range subs {
			s.Close()
		}
		metrics.SetBroadcastSubscribers(0)
	})
}

// AddListener registers a connection listener. Listeners run synchronously
// on the register/unregister path and must be fast.
func (h *Hub) AddListener(l ConnectionListener) {
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
}

func (h *Hub) notifyListeners(event, subscriberID string) {
	h.mu.RLock()
	listeners := make([]ConnectionListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	for _, l := range listeners {
		l(event, subscriberID)
	}
}

// Register adds a subscriber and opens it for delivery.
func (h *Hub) Register(sub *Subscriber) {
	sub.Open()

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.SetBroadcastSubscribers(count)
	h.notifyListeners("connect", sub.ID)
	h.logger.Infow("Subscriber connected",
		"subscriber_id", sub.ID,
		"channels", sub.Channels(),
		"total", count,
	)
}

// Unregister removes and closes a subscriber. Unknown IDs are a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}

	sub.Close()
	metrics.SetBroadcastSubscribers(count)
	h.notifyListeners("disconnect", id)
	h.logger.Infow("Subscriber disconnected",
		"subscriber_id", id,
		"total", count,
	)
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers a message to every subscriber of its channel. A full
// send buffer evicts the subscriber: it is too far behind to ever catch up
// on a live feed.
func (h *Hub) Publish(msg models.BroadcastMessage) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.Subscribed(msg.Channel) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	var evicted []string
	for _, sub := range targets {
		if sub.TrySend(msg) {
			metrics.BroadcastMessagesTotal.WithLabelValues(msg.Channel, string(msg.Type)).Inc()
			continue
		}
		metrics.BroadcastDropsTotal.WithLabelValues("slow_subscriber").Inc()
		evicted = append(evicted, sub.ID)
	}

	for _, id := range evicted {
		h.logger.Warnw("Evicting slow subscriber",
			"subscriber_id", id,
			"channel", msg.Channel,
		)
		h.Unregister(id)
	}
}

// EmergencyBroadcast pushes a message to every connected subscriber,
// bypassing channel subscriptions. Reserved for operator-triggered
// system-wide notices; alert fan-out stays on the alert channels.
func (h *Hub) EmergencyBroadcast(msg models.BroadcastMessage) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var evicted []string
	for _, sub := range targets {
		if sub.TrySend(msg) {
			metrics.BroadcastMessagesTotal.WithLabelValues(msg.Channel, string(msg.Type)).Inc()
			continue
		}
		metrics.BroadcastDropsTotal.WithLabelValues("slow_subscriber").Inc()
		evicted = append(evicted, sub.ID)
	}

	for _, id := range evicted {
		h.Unregister(id)
	}
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

// sweep evicts stale subscribers, then heartbeats the survivors so clients
// can tell a quiet feed from a dead connection.
func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.cfg.StaleThreshold)

	h.mu.RLock()
	var stale []string
	live := make([]*Subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		if sub.LastSeen().Before(cutoff) {
			stale = append(stale, id)
			continue
		}
		live = append(live, sub)
	}
	h.mu.RUnlock()

	for _, id := range stale {
		metrics.BroadcastDropsTotal.WithLabelValues("stale").Inc()
		h.logger.Infow("Evicting stale subscriber", "subscriber_id", id)
		h.Unregister(id)
	}

	heartbeat := models.BroadcastMessage{
		Type:      models.MessageTypeHeartbeat,
		Timestamp: time.Now(),
	}
	for _, sub := range live {
		sub.TrySend(heartbeat)
	}
}

// PublishEvents pushes a batch to events.all and the crisis-only feed for
// the subset that qualifies.
func (h *Hub) PublishEvents(_ context.Context, events []models.MonitoringEvent, crisis []models.MonitoringEvent) {
	if len(events) > 0 {
		h.Publish(models.NewEventMessage(constants.ChannelEventsAll, events))
	}
	if len(crisis) > 0 {
		h.Publish(models.NewEventMessage(constants.ChannelEventsCrisis, crisis))
	}
}

// PublishAlert routes an alert to alerts.all, doubling into alerts.critical
// when severity warrants it.
func (h *Hub) PublishAlert(_ context.Context, alert models.CrisisAlert) {
	h.Publish(models.NewAlertMessage(constants.ChannelAlertsAll, alert))

	if alert.Severity == models.SeverityCritical {
		h.Publish(models.NewAlertMessage(constants.ChannelAlertsCritical, alert))
	}
}

// PublishAlertUpdate announces a lifecycle change on alerts.all.
func (h *Hub) PublishAlertUpdate(_ context.Context, update models.AlertUpdate) {
	h.Publish(models.NewAlertUpdateMessage(constants.ChannelAlertsAll, update))
}
