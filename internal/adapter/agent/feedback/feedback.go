// Package feedback implements the feedback agent: post-service surveys with
// keyword sentiment and an aggregate report.
package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskCollect   = "collect_feedback"
	TaskSentiment = "analyze_sentiment"
	TaskReport    = "generate_report"
)

// Sentiment labels.
const (
	Positive = "positive"
	Negative = "negative"
	Neutral  = "neutral"
)

var (
	positiveWords = []string{"great", "excellent", "good", "happy", "satisfied", "amazing", "wonderful"}
	negativeWords = []string{"bad", "poor", "terrible", "awful", "disappointed", "unhappy"}
)

// Record is one collected survey.
type Record struct {
	FeedbackID     string  `json:"feedback_id"`
	BookingID      string  `json:"booking_id"`
	CustomerName   string  `json:"customer_name"`
	VehicleID      string  `json:"vehicle_id"`
	Rating         float64 `json:"rating"`
	Comments       string  `json:"comments"`
	ServiceQuality float64 `json:"service_quality"`
	Timeliness     float64 `json:"timeliness"`
	StaffCourtesy  float64 `json:"staff_courtesy"`
	WouldRecommend bool    `json:"would_recommend"`
	CollectedAt    string  `json:"collected_at"`
	Sentiment      string  `json:"sentiment"`
}

// Report aggregates every collected survey.
type Report struct {
	TotalResponses     int     `json:"total_responses"`
	AverageRating      float64 `json:"average_rating"`
	PositiveSentiment  float64 `json:"positive_sentiment"`
	NegativeSentiment  float64 `json:"negative_sentiment"`
	RecommendationRate float64 `json:"recommendation_rate"`
	GeneratedAt        string  `json:"generated_at"`
}

type collectRequest struct {
	BookingID      string  `json:"booking_id"`
	CustomerName   string  `json:"customer_name"`
	VehicleID      string  `json:"vehicle_id"`
	Rating         float64 `json:"rating"`
	Comments       string  `json:"comments"`
	ServiceQuality float64 `json:"service_quality"`
	Timeliness     float64 `json:"timeliness"`
	StaffCourtesy  float64 `json:"staff_courtesy"`
	WouldRecommend *bool   `json:"would_recommend"`
}

type collectResponse struct {
	Feedback Record `json:"feedback"`
	Message  string `json:"message"`
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Text      string `json:"text"`
	Sentiment string `json:"sentiment"`
}

type reportResponse struct {
	Report  *Report `json:"report,omitempty"`
	Message string  `json:"message,omitempty"`
}

const collectSchema = `{
  "type": "object",
  "required": ["booking_id", "vehicle_id", "rating"],
  "properties": {
    "booking_id": {"type": "string", "minLength": 1},
    "customer_name": {"type": "string"},
    "vehicle_id": {"type": "string", "minLength": 1},
    "rating": {"type": "number", "minimum": 0, "maximum": 5},
    "comments": {"type": "string"},
    "service_quality": {"type": "number", "minimum": 0, "maximum": 5},
    "timeliness": {"type": "number", "minimum": 0, "maximum": 5},
    "staff_courtesy": {"type": "number", "minimum": 0, "maximum": 5},
    "would_recommend": {"type": "boolean"}
  }
}`

const sentimentSchema = `{
  "type": "object",
  "properties": {"text": {"type": "string"}}
}`

// Agent collects customer feedback.
type Agent struct {
	agent.Base
	records []Record
	now     agent.Clock
	logger  *slog.Logger
}

// New creates the feedback agent.
func New(cfg config.AgentConfig, logger *slog.Logger) *Agent {
	return &Agent{
		Base:   agent.NewBase(cfg, "Collects post-service feedback and reports satisfaction"),
		now:    time.Now,
		logger: logger,
	}
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskCollect, Schema: collectSchema, Handle: agent.Handle(a.collect)},
		{Type: TaskSentiment, Schema: sentimentSchema, Handle: agent.Handle(a.sentiment)},
		{Type: TaskReport, Handle: agent.Handle(a.report)},
	}
}

func (a *Agent) collect(_ context.Context, req collectRequest) (collectResponse, error) {
	recommend := true
	if req.WouldRecommend != nil {
		recommend = *req.WouldRecommend
	}
	rec := Record{
		FeedbackID:     domain.NewID("FB"),
		BookingID:      req.BookingID,
		CustomerName:   req.CustomerName,
		VehicleID:      req.VehicleID,
		Rating:         req.Rating,
		Comments:       req.Comments,
		ServiceQuality: req.ServiceQuality,
		Timeliness:     req.Timeliness,
		StaffCourtesy:  req.StaffCourtesy,
		WouldRecommend: recommend,
		CollectedAt:    agent.Timestamp(a.now()),
		Sentiment:      Sentiment(req.Comments),
	}
	a.records = append(a.records, rec)

	a.logger.Info("feedback collected", "feedback_id", rec.FeedbackID, "booking_id", rec.BookingID, "sentiment", rec.Sentiment)
	return collectResponse{Feedback: rec, Message: "Feedback successfully recorded"}, nil
}

func (a *Agent) sentiment(_ context.Context, req sentimentRequest) (sentimentResponse, error) {
	return sentimentResponse{Text: req.Text, Sentiment: Sentiment(req.Text)}, nil
}

func (a *Agent) report(_ context.Context, _ struct{}) (reportResponse, error) {
	if len(a.records) == 0 {
		return reportResponse{Message: "No feedback data available"}, nil
	}

	var ratings float64
	var positive, negative, recommend int
	for _, r := range a.records {
		ratings += r.Rating
		switch r.Sentiment {
		case Positive:
			positive++
		case Negative:
			negative++
		}
		if r.WouldRecommend {
			recommend++
		}
	}

	total := float64(len(a.records))
	pct := func(n int) float64 { return agent.Round(float64(n)/total*100, 1) }
	return reportResponse{Report: &Report{
		TotalResponses:     len(a.records),
		AverageRating:      agent.Round(ratings/total, 2),
		PositiveSentiment:  pct(positive),
		NegativeSentiment:  pct(negative),
		RecommendationRate: pct(recommend),
		GeneratedAt:        agent.Timestamp(a.now()),
	}}, nil
}

// Sentiment classifies text by counting which positive and negative keywords
// it contains. Empty text and ties are neutral.
func Sentiment(text string) string {
	if text == "" {
		return Neutral
	}
	lower := strings.ToLower(text)
	count := func(words []string) int {
		n := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				n++
			}
		}
		return n
	}
	pos, neg := count(positiveWords), count(negativeWords)
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}
