package models

import "time"

type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypeAlert       MessageType = "alert"
	MessageTypeAlertUpdate MessageType = "alert_update"
	MessageTypeMetric      MessageType = "metric"
	MessageTypeHeartbeat   MessageType = "heartbeat"
)

// BroadcastMessage is the wire format pushed to live subscribers: one JSON
// object per message.
type BroadcastMessage struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AlertUpdate is the payload of an alert_update message.
type AlertUpdate struct {
	AlertID   string      `json:"alert_id"`
	Status    AlertStatus `json:"status"`
	Actor     string      `json:"actor"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func NewEventMessage(channel string, events []MonitoringEvent) BroadcastMessage {
	return BroadcastMessage{
		Type:      MessageTypeEvent,
		Channel:   channel,
		Timestamp: time.Now(),
		Data:      events,
	}
}

func NewAlertMessage(channel string, alert CrisisAlert) BroadcastMessage {
	return BroadcastMessage{
		Type:      MessageTypeAlert,
		Channel:   channel,
		Timestamp: time.Now(),
		Data:      alert,
	}
}

func NewAlertUpdateMessage(channel string, update AlertUpdate) BroadcastMessage {
	return BroadcastMessage{
		Type:      MessageTypeAlertUpdate,
		Channel:   channel,
		Timestamp: time.Now(),
		Data:      update,
	}
}

func NewMetricMessage(channel string, snapshot interface{}) BroadcastMessage {
	return BroadcastMessage{
		Type:      MessageTypeMetric,
		Channel:   channel,
		Timestamp: time.Now(),
		Data:      snapshot,
	}
}
