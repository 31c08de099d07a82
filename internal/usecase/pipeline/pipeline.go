// Package pipeline runs the end-to-end maintenance flow for one vehicle:
// analysis, diagnosis, customer call, booking, feedback, manufacturing
// insights and a security summary. Every step is a routed task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/tracer"
)

// Router routes a task envelope to a named agent.
type Router interface {
	RouteTask(ctx context.Context, name string, env domain.TaskEnvelope) (domain.Payload, error)
}

// Step names, in run order.
const (
	StepAnalyze      = "analyze"
	StepDiagnose     = "diagnose"
	StepCall         = "call"
	StepResponse     = "customer_response"
	StepFindCenters  = "find_centers"
	StepAvailability = "availability"
	StepBook         = "book"
	StepFeedback     = "feedback"
	StepPattern      = "failure_pattern"
	StepRCA          = "rca_report"
	StepSecurity     = "security_report"
)

var (
	ErrNoServiceCenter = errors.New("no service center in range")
	ErrNoSlots         = errors.New("no available slots")
)

const defaultResponse = "Yes, I'd like to schedule an appointment"

// StepError reports the step a run stopped at.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("pipeline step %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Agents names the agent serving each stage.
type Agents struct {
	Telemetry  string
	Diagnosis  string
	Engagement string
	Booking    string
	Feedback   string
	Insights   string
	Security   string
}

// DefaultAgents are the fleet's default routing names.
var DefaultAgents = Agents{
	Telemetry:  "DataAnalysisAgent",
	Diagnosis:  "DiagnosisAgent",
	Engagement: "CustomerEngagementAgent",
	Booking:    "SchedulingAgent",
	Feedback:   "FeedbackAgent",
	Insights:   "ManufacturingInsightsAgent",
	Security:   "UEBAAgent",
}

// Report collects every step result of a run. Steps that did not run are nil.
type Report struct {
	VehicleID        string         `json:"vehicle_id"`
	ServiceRequired  bool           `json:"service_required"`
	CustomerAccepted bool           `json:"customer_accepted"`
	Component        string         `json:"component,omitempty"`
	Severity         string         `json:"severity,omitempty"`
	CallID           string         `json:"call_id,omitempty"`
	BookingID        string         `json:"booking_id,omitempty"`
	Steps            []string       `json:"steps"`
	Analysis         domain.Payload `json:"analysis,omitempty"`
	Diagnosis        domain.Payload `json:"diagnosis,omitempty"`
	Call             domain.Payload `json:"call,omitempty"`
	Response         domain.Payload `json:"response,omitempty"`
	Centers          domain.Payload `json:"centers,omitempty"`
	Availability     domain.Payload `json:"availability,omitempty"`
	Booking          domain.Payload `json:"booking,omitempty"`
	Feedback         domain.Payload `json:"feedback,omitempty"`
	Pattern          domain.Payload `json:"failure_pattern,omitempty"`
	RCA              domain.Payload `json:"rca,omitempty"`
	Security         domain.Payload `json:"security,omitempty"`
	Duration         time.Duration  `json:"duration"`
}

// Pipeline drives one vehicle through the fleet.
type Pipeline struct {
	router Router
	agents Agents
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAgents overrides the routing names.
func WithAgents(a Agents) Option {
	return func(p *Pipeline) { p.agents = a }
}

// WithClock sets the clock used for preferred booking dates.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline routing through router.
func New(router Router, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		router: router,
		agents: DefaultAgents,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type analysisResult struct {
	Features  map[string]float64 `json:"features"`
	Anomalies []map[string]any   `json:"anomalies"`
}

type diagnosisResult struct {
	Severity          string `json:"severity"`
	TimeToFailureDays int    `json:"time_to_failure_days"`
	Prediction        *struct {
		Component  string  `json:"component"`
		Confidence float64 `json:"confidence"`
	} `json:"prediction"`
}

// Run executes the flow for v. It stops early, without error, when no failure
// is predicted or the customer does not accept an appointment. Any step
// failure is returned as a *StepError along with the partial report.
func (p *Pipeline) Run(ctx context.Context, v Vehicle) (*Report, error) {
	ctx, span := tracer.StartSpan(ctx, "pipeline.run")
	span.SetAttributes(tracer.KeyVehicle.String(v.VehicleID))

	start := time.Now()
	report := &Report{VehicleID: v.VehicleID, Steps: []string{}}
	err := p.run(ctx, v, report)
	report.Duration = time.Since(start)

	if err != nil {
		p.logger.Warn("pipeline stopped", "vehicle_id", v.VehicleID, "error", err, "code", domain.ErrorCodeOf(err))
	} else {
		p.logger.Info("pipeline complete", "vehicle_id", v.VehicleID,
			"service_required", report.ServiceRequired,
			"customer_accepted", report.CustomerAccepted,
			"booking_id", report.BookingID,
			"duration", report.Duration,
		)
	}
	tracer.End(span, err)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, v Vehicle, r *Report) error {
	var err error

	// Analysis and diagnosis.
	telemetry := make(map[string]any, len(v.Telemetry))
	for k, val := range v.Telemetry {
		telemetry[k] = val
	}
	var analysis analysisResult
	if r.Analysis, err = p.step(ctx, r, StepAnalyze, p.agents.Telemetry, "analyze_telemetry", domain.Payload{
		"vehicle_id": v.VehicleID,
		"telemetry":  telemetry,
	}, &analysis); err != nil {
		return err
	}

	anomalies := make([]any, len(analysis.Anomalies))
	for i, a := range analysis.Anomalies {
		anomalies[i] = a
	}
	features := make(map[string]any, len(analysis.Features))
	for k, val := range analysis.Features {
		features[k] = val
	}
	dtc := make([]any, len(v.DTCCodes))
	for i, c := range v.DTCCodes {
		dtc[i] = c
	}
	var diag diagnosisResult
	if r.Diagnosis, err = p.step(ctx, r, StepDiagnose, p.agents.Diagnosis, "predict_failure", domain.Payload{
		"vehicle_id": v.VehicleID,
		"features":   features,
		"anomalies":  anomalies,
		"dtc_codes":  dtc,
	}, &diag); err != nil {
		return err
	}
	r.Severity = diag.Severity
	if diag.Prediction == nil {
		return nil
	}
	r.ServiceRequired = true
	r.Component = diag.Prediction.Component

	// Customer call.
	var call struct {
		CallID string `json:"call_id"`
	}
	if r.Call, err = p.step(ctx, r, StepCall, p.agents.Engagement, "initiate_voice_call", domain.Payload{
		"customer_phone": v.OwnerPhone,
		"vehicle_id":     v.VehicleID,
		"customer_name":  v.OwnerName,
		"failure_prediction": map[string]any{
			"component":            diag.Prediction.Component,
			"confidence":           diag.Prediction.Confidence,
			"time_to_failure_days": diag.TimeToFailureDays,
		},
	}, &call); err != nil {
		return err
	}
	r.CallID = call.CallID

	reply := v.CustomerResponse
	if reply == "" {
		reply = defaultResponse
	}
	var response struct {
		Action string `json:"action"`
	}
	if r.Response, err = p.step(ctx, r, StepResponse, p.agents.Engagement, "handle_customer_response", domain.Payload{
		"call_id":       call.CallID,
		"response_text": reply,
	}, &response); err != nil {
		return err
	}
	if response.Action != "proceed_to_scheduling" {
		return nil
	}
	r.CustomerAccepted = true

	// Booking.
	var centers struct {
		ServiceCenters []struct {
			ID string `json:"id"`
		} `json:"service_centers"`
	}
	if r.Centers, err = p.step(ctx, r, StepFindCenters, p.agents.Booking, "find_service_centers", domain.Payload{
		"customer_location": map[string]any{"lat": v.Location.Lat, "lng": v.Location.Lng},
		"service_type":      "maintenance",
	}, &centers); err != nil {
		return err
	}
	if len(centers.ServiceCenters) == 0 {
		return &StepError{Step: StepFindCenters, Err: ErrNoServiceCenter}
	}
	centerID := centers.ServiceCenters[0].ID

	now := p.now()
	var availability struct {
		Slots []struct {
			DateTime string `json:"datetime"`
		} `json:"available_slots"`
	}
	if r.Availability, err = p.step(ctx, r, StepAvailability, p.agents.Booking, "check_availability", domain.Payload{
		"service_center_id": centerID,
		"preferred_dates": []any{
			now.AddDate(0, 0, 1).Format("2006-01-02"),
			now.AddDate(0, 0, 2).Format("2006-01-02"),
		},
		"service_duration_minutes": 120,
	}, &availability); err != nil {
		return err
	}
	if len(availability.Slots) == 0 {
		return &StepError{Step: StepAvailability, Err: ErrNoSlots}
	}

	var booked struct {
		Booking struct {
			BookingID string `json:"booking_id"`
		} `json:"booking"`
	}
	if r.Booking, err = p.step(ctx, r, StepBook, p.agents.Booking, "book_appointment", domain.Payload{
		"service_center_id":  centerID,
		"customer_name":      v.OwnerName,
		"customer_phone":     v.OwnerPhone,
		"vehicle_id":         v.VehicleID,
		"appointment_time":   availability.Slots[0].DateTime,
		"service_type":       r.Component + " Replacement",
		"estimated_duration": 120,
	}, &booked); err != nil {
		return err
	}
	r.BookingID = booked.Booking.BookingID

	// Feedback.
	recommend := true
	if v.Feedback.WouldRecommend != nil {
		recommend = *v.Feedback.WouldRecommend
	}
	if r.Feedback, err = p.step(ctx, r, StepFeedback, p.agents.Feedback, "collect_feedback", domain.Payload{
		"booking_id":      r.BookingID,
		"customer_name":   v.OwnerName,
		"vehicle_id":      v.VehicleID,
		"rating":          v.Feedback.Rating,
		"comments":        v.Feedback.Comments,
		"service_quality": v.Feedback.Rating,
		"timeliness":      v.Feedback.Rating,
		"staff_courtesy":  v.Feedback.Rating,
		"would_recommend": recommend,
	}, nil); err != nil {
		return err
	}

	// Manufacturing insights.
	fleet := make([]any, 0, len(v.FleetFailures)+1)
	for _, f := range v.FleetFailures {
		fleet = append(fleet, map[string]any{"vehicle_id": f.VehicleID, "batch_id": f.BatchID})
	}
	fleet = append(fleet, map[string]any{"vehicle_id": v.VehicleID, "batch_id": v.BatchID})
	if r.Pattern, err = p.step(ctx, r, StepPattern, p.agents.Insights, "analyze_failure_pattern", domain.Payload{
		"component":    r.Component,
		"vehicle_data": fleet,
	}, nil); err != nil {
		return err
	}
	if r.RCA, err = p.step(ctx, r, StepRCA, p.agents.Insights, "generate_rca_report", domain.Payload{
		"component": r.Component,
	}, nil); err != nil {
		return err
	}

	// Security summary.
	if r.Security, err = p.step(ctx, r, StepSecurity, p.agents.Security, "generate_security_report", domain.Payload{
		"time_period_hours": 1,
	}, nil); err != nil {
		return err
	}
	return nil
}

// step routes one task and decodes the result into dst when set.
func (p *Pipeline) step(ctx context.Context, r *Report, name, agent, taskType string, payload domain.Payload, dst any) (domain.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StepError{Step: name, Err: err}
	}
	p.logger.Debug("pipeline step", "step", name, "agent", agent, "task_type", taskType)

	out, err := p.router.RouteTask(ctx, agent, domain.NewTask(taskType, payload))
	if err != nil {
		return nil, &StepError{Step: name, Err: err}
	}
	if dst != nil {
		if err := domain.DecodePayload(out, dst); err != nil {
			return nil, &StepError{Step: name, Err: err}
		}
	}
	r.Steps = append(r.Steps, name)
	return out, nil
}
