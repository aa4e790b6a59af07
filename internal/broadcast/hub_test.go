package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisiswatch/internal/config"
	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
	"crisiswatch/pkg/models"
)

func newTestHub(cfg config.BroadcastConfig) *Hub {
	return NewHub(cfg, logger.NopLogger())
}

func drain(sub *Subscriber) []models.BroadcastMessage {
	var msgs []models.BroadcastMessage
	for {
		select {
		case msg, ok := <-sub.Outbox():
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestPublishRoutesByChannel(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	alertsSub := NewSubscriber("sub-alerts", []string{constants.ChannelAlertsAll}, 8)
	eventsSub := NewSubscriber("sub-events", []string{constants.ChannelEventsAll}, 8)
	hub.Register(alertsSub)
	hub.Register(eventsSub)

	hub.Publish(models.NewAlertMessage(constants.ChannelAlertsAll, models.CrisisAlert{ID: "alert-1"}))

	assert.Len(t, drain(alertsSub), 1)
	assert.Empty(t, drain(eventsSub), "messages only reach subscribers of their channel")
}

func TestPublishToUnknownChannelReachesNobody(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	sub := NewSubscriber("sub-1", []string{constants.ChannelAlertsAll}, 8)
	hub.Register(sub)

	hub.Publish(models.BroadcastMessage{Type: models.MessageTypeAlert, Channel: "no.such.channel"})
	assert.Empty(t, drain(sub))
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 1})

	sub := NewSubscriber("sub-slow", []string{constants.ChannelEventsAll}, 1)
	hub.Register(sub)

	msg := models.NewEventMessage(constants.ChannelEventsAll, nil)
	hub.Publish(msg)
	require.Equal(t, 1, hub.SubscriberCount(), "first message fits the buffer")

	hub.Publish(msg)
	assert.Equal(t, 0, hub.SubscriberCount(), "a full buffer means the subscriber is evicted")
	assert.Equal(t, StateClosed, sub.State())
}

func TestEmergencyBroadcastIgnoresSubscriptions(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	sub := NewSubscriber("sub-metrics", []string{constants.ChannelMetrics}, 8)
	hub.Register(sub)

	hub.EmergencyBroadcast(models.NewAlertMessage(constants.ChannelAlertsCritical, models.CrisisAlert{ID: "alert-1"}))

	msgs := drain(sub)
	require.Len(t, msgs, 1, "emergency broadcast reaches every subscriber")
	assert.Equal(t, constants.ChannelAlertsCritical, msgs[0].Channel)
}

func TestPublishAlertSeverityRouting(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	critSub := NewSubscriber("sub-critical", []string{constants.ChannelAlertsCritical}, 8)
	allSub := NewSubscriber("sub-all", []string{constants.ChannelAlertsAll}, 8)
	hub.Register(critSub)
	hub.Register(allSub)

	hub.PublishAlert(context.Background(), models.CrisisAlert{ID: "a1", Severity: models.SeverityMedium})
	assert.Empty(t, drain(critSub), "medium severity stays off the critical feed")
	assert.Len(t, drain(allSub), 1)

	hub.PublishAlert(context.Background(), models.CrisisAlert{ID: "a2", Severity: models.SeverityCritical})
	assert.Len(t, drain(critSub), 1)
	assert.Len(t, drain(allSub), 1)
}

func TestUnregisterClosesSubscriber(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	sub := NewSubscriber("sub-1", []string{constants.ChannelAlertsAll}, 8)
	hub.Register(sub)
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Unregister("sub-1")
	assert.Equal(t, 0, hub.SubscriberCount())
	assert.Equal(t, StateClosed, sub.State())

	hub.Unregister("sub-1")
	assert.Equal(t, 0, hub.SubscriberCount(), "double unregister is a no-op")
}

func TestConnectionListeners(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8})

	var seen []string
	hub.AddListener(func(event, id string) {
		seen = append(seen, event+":"+id)
	})

	sub := NewSubscriber("sub-1", nil, 8)
	hub.Register(sub)
	hub.Unregister("sub-1")

	assert.Equal(t, []string{"connect:sub-1", "disconnect:sub-1"}, seen)
}

func TestStaleSubscriberSweep(t *testing.T) {
	hub := newTestHub(config.BroadcastConfig{SendBuffer: 8, StaleThreshold: 50 * time.Millisecond})

	stale := NewSubscriber("sub-stale", []string{constants.ChannelAlertsAll}, 8)
	fresh := NewSubscriber("sub-fresh", []string{constants.ChannelAlertsAll}, 8)
	hub.Register(stale)
	hub.Register(fresh)

	time.Sleep(60 * time.Millisecond)
	fresh.Touch()
	hub.sweep()

	assert.Equal(t, 1, hub.SubscriberCount())
	assert.Equal(t, StateClosed, stale.State())

	msgs := drain(fresh)
	require.Len(t, msgs, 1, "survivors receive a heartbeat")
	assert.Equal(t, models.MessageTypeHeartbeat, msgs[0].Type)
}

func TestSubscriberStateMachine(t *testing.T) {
	sub := NewSubscriber("sub-1", nil, 1)
	assert.Equal(t, StateConnecting, sub.State())

	assert.False(t, sub.TrySend(models.BroadcastMessage{}), "connecting subscribers receive nothing")

	require.True(t, sub.Open())
	assert.Equal(t, StateOpen, sub.State())
	assert.False(t, sub.Open(), "open is one-way")

	assert.True(t, sub.TrySend(models.BroadcastMessage{}))
	assert.False(t, sub.TrySend(models.BroadcastMessage{}), "full buffer rejects sends")

	sub.Close()
	assert.Equal(t, StateClosed, sub.State())
	assert.False(t, sub.TrySend(models.BroadcastMessage{}))
	sub.Close()
}

func TestSubscribeUnsubscribe(t *testing.T) {
	sub := NewSubscriber("sub-1", []string{constants.ChannelAlertsAll}, 8)

	assert.True(t, sub.Subscribed(constants.ChannelAlertsAll))
	assert.False(t, sub.Subscribed(constants.ChannelMetrics))

	sub.Subscribe(constants.ChannelMetrics)
	assert.True(t, sub.Subscribed(constants.ChannelMetrics))

	sub.Unsubscribe(constants.ChannelAlertsAll)
	assert.False(t, sub.Subscribed(constants.ChannelAlertsAll))
}

func TestFilterKnownChannels(t *testing.T) {
	got := filterKnown([]string{constants.ChannelAlertsAll, "bogus", constants.ChannelMetrics})
	assert.Equal(t, []string{constants.ChannelAlertsAll, constants.ChannelMetrics}, got)
}
