package logger

import "context"

type contextKey string

const (
	eventIDKey   contextKey = "event_id"
	alertIDKey   contextKey = "alert_id"
	componentKey contextKey = "component"
	requestIDKey contextKey = "request_id"
)

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

func WithAlertID(ctx context.Context, alertID string) context.Context {
	return context.WithValue(ctx, alertIDKey, alertID)
}

func WithComponentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, componentKey, name)
}

func GetEventID(ctx context.Context) string {
	if v, ok := ctx.Value(eventIDKey).(string); ok {
		return v
	}
	return ""
}

func GetAlertID(ctx context.Context) string {
	if v, ok := ctx.Value(alertIDKey).(string); ok {
		return v
	}
	return ""
}

func GetComponentName(ctx context.Context) string {
	if v, ok := ctx.Value(componentKey).(string); ok {
		return v
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if eventID := GetEventID(ctx); eventID != "" {
		fields = append(fields, "event_id", eventID)
	}

	if alertID := GetAlertID(ctx); alertID != "" {
		fields = append(fields, "alert_id", alertID)
	}

	if component := GetComponentName(ctx); component != "" {
		fields = append(fields, "component", component)
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	return fields
}
