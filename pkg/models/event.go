package models

import "time"

type EventType string

const (
	EventTypeMention EventType = "mention"
	EventTypeNews    EventType = "news"
	EventTypeSocial  EventType = "social"
	EventTypeReview  EventType = "review"
	EventTypeForum   EventType = "forum"
)

type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// MonitoringEvent is a normalized listening-service record. The ID is
// source-qualified and globally unique; re-ingesting the same ID is a no-op.
type MonitoringEvent struct {
	ID                string    `json:"id" bson:"_id"`
	SourceName        string    `json:"source_name" bson:"source_name"`
	EventType         EventType `json:"event_type" bson:"event_type"`
	OccurredAt        time.Time `json:"occurred_at" bson:"occurred_at"`
	Title             string    `json:"title" bson:"title"`
	Body              string    `json:"body" bson:"body"`
	Permalink         string    `json:"permalink,omitempty" bson:"permalink,omitempty"`
	Author            Author    `json:"author" bson:"author"`
	Platform          string    `json:"platform" bson:"platform"`
	Sentiment         Sentiment `json:"sentiment" bson:"sentiment"`
	Metrics           Metrics   `json:"metrics" bson:"metrics"`
	Keywords          []string  `json:"keywords,omitempty" bson:"keywords,omitempty"`
	MentionedEntities []string  `json:"mentioned_entities,omitempty" bson:"mentioned_entities,omitempty"`
	Language          string    `json:"language,omitempty" bson:"language,omitempty"`
	Location          string    `json:"location,omitempty" bson:"location,omitempty"`
	InfluenceScore    float64   `json:"influence_score,omitempty" bson:"influence_score,omitempty"`
	IsDuplicate       bool      `json:"is_duplicate" bson:"is_duplicate"`
	DuplicateOfID     string    `json:"duplicate_of_id,omitempty" bson:"duplicate_of_id,omitempty"`
}

type Author struct {
	Name          string `json:"name" bson:"name"`
	Handle        string `json:"handle,omitempty" bson:"handle,omitempty"`
	FollowerCount int64  `json:"follower_count,omitempty" bson:"follower_count,omitempty"`
	Verified      bool   `json:"verified,omitempty" bson:"verified,omitempty"`
}

// Sentiment score is in [-1, 1]. Confidence may be adjusted once at ingestion
// by the per-source trust weight; the score itself never changes.
type Sentiment struct {
	Score      float64        `json:"score" bson:"score"`
	Label      SentimentLabel `json:"label" bson:"label"`
	Confidence float64        `json:"confidence" bson:"confidence"`
}

type Metrics struct {
	Reach      int64 `json:"reach,omitempty" bson:"reach,omitempty"`
	Engagement int64 `json:"engagement,omitempty" bson:"engagement,omitempty"`
	Likes      int64 `json:"likes,omitempty" bson:"likes,omitempty"`
	Shares     int64 `json:"shares,omitempty" bson:"shares,omitempty"`
	Comments   int64 `json:"comments,omitempty" bson:"comments,omitempty"`
}
