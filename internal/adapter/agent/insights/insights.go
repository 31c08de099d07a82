// Package insights implements the manufacturing insights agent: fleet-wide
// failure patterns, batch defect detection and root cause reports.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskAnalyzePattern = "analyze_failure_pattern"
	TaskRCAReport      = "generate_rca_report"
	TaskBatchIssues    = "detect_batch_issues"
)

const (
	vehiclesPerBatch  = 100
	costPerIncident   = 1500
	highSeverityCount = 10
	defaultThreshold  = 0.15
	unknownBatch      = "UNKNOWN"
)

// Failure is one reported component failure.
type Failure struct {
	VehicleID string `json:"vehicle_id"`
	BatchID   string `json:"batch_id,omitempty"`
}

// Batch is the failure count of one production batch.
type Batch struct {
	BatchID       string  `json:"batch_id"`
	TotalVehicles int     `json:"total_vehicles"`
	Failures      int     `json:"failures"`
	FailureRate   float64 `json:"failure_rate"`
}

// RootCause is a suspected cause of a failure pattern.
type RootCause struct {
	Cause      string `json:"cause"`
	Evidence   string `json:"evidence"`
	Confidence string `json:"confidence"`
}

// CorrectiveAction addresses failures already in the field.
type CorrectiveAction struct {
	Action          string `json:"action"`
	Priority        string `json:"priority"`
	Timeline        string `json:"timeline"`
	ResponsibleTeam string `json:"responsible_team"`
}

// PreventiveAction keeps a failure pattern from recurring.
type PreventiveAction struct {
	Action         string `json:"action"`
	Timeline       string `json:"timeline"`
	ExpectedImpact string `json:"expected_impact"`
}

// RCAReport is a root cause analysis of one component.
type RCAReport struct {
	ReportID            string             `json:"report_id"`
	Component           string             `json:"component"`
	TotalIncidents      int                `json:"total_incidents"`
	AffectedVehicles    int                `json:"affected_vehicles"`
	RootCauses          []RootCause        `json:"root_causes"`
	CorrectiveActions   []CorrectiveAction `json:"corrective_actions"`
	PreventiveActions   []PreventiveAction `json:"preventive_actions"`
	EstimatedCostImpact int                `json:"estimated_cost_impact"`
	GeneratedAt         string             `json:"generated_at"`
}

type patternRequest struct {
	Component   string    `json:"component"`
	VehicleData []Failure `json:"vehicle_data"`
}

type patternResponse struct {
	Component        string  `json:"component"`
	TotalFailures    int     `json:"total_failures"`
	AffectedVehicles int     `json:"affected_vehicles"`
	BatchAnalysis    []Batch `json:"batch_analysis"`
	Severity         string  `json:"severity"`
}

type componentRequest struct {
	Component string `json:"component"`
}

type rcaResponse struct {
	Report RCAReport `json:"report"`
}

type batchRequest struct {
	Component      string   `json:"component"`
	BatchThreshold *float64 `json:"batch_threshold"`
}

type batchResponse struct {
	Component            string  `json:"component"`
	ProblematicBatches   []Batch `json:"problematic_batches"`
	TotalBatchesAnalyzed int     `json:"total_batches_analyzed"`
	Recommendation       string  `json:"recommendation"`
}

const patternSchema = `{
  "type": "object",
  "required": ["component"],
  "properties": {
    "component": {"type": "string", "minLength": 1},
    "vehicle_data": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["vehicle_id"],
        "properties": {
          "vehicle_id": {"type": "string", "minLength": 1},
          "batch_id": {"type": "string"}
        }
      }
    }
  }
}`

const componentSchema = `{
  "type": "object",
  "required": ["component"],
  "properties": {"component": {"type": "string", "minLength": 1}}
}`

const batchSchema = `{
  "type": "object",
  "required": ["component"],
  "properties": {
    "component": {"type": "string", "minLength": 1},
    "batch_threshold": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// Agent tracks failures per component.
type Agent struct {
	agent.Base
	failures map[string][]Failure
	reports  []RCAReport
	now      agent.Clock
	logger   *slog.Logger
}

// New creates the insights agent.
func New(cfg config.AgentConfig, logger *slog.Logger) *Agent {
	return &Agent{
		Base:     agent.NewBase(cfg, "Finds manufacturing defects in fleet failure data"),
		failures: make(map[string][]Failure),
		now:      time.Now,
		logger:   logger,
	}
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskAnalyzePattern, Schema: patternSchema, Handle: agent.Handle(a.analyzePattern)},
		{Type: TaskRCAReport, Schema: componentSchema, Handle: agent.Handle(a.rcaReport)},
		{Type: TaskBatchIssues, Schema: batchSchema, Handle: agent.Handle(a.batchIssues)},
	}
}

func (a *Agent) analyzePattern(_ context.Context, req patternRequest) (patternResponse, error) {
	a.failures[req.Component] = append(a.failures[req.Component], req.VehicleData...)
	failures := a.failures[req.Component]

	severity := "medium"
	if len(failures) > highSeverityCount {
		severity = "high"
	}
	a.logger.Info("failure pattern analyzed", "component", req.Component, "failures", len(failures))
	return patternResponse{
		Component:        req.Component,
		TotalFailures:    len(failures),
		AffectedVehicles: affectedVehicles(failures),
		BatchAnalysis:    analyzeBatches(failures),
		Severity:         severity,
	}, nil
}

func (a *Agent) rcaReport(_ context.Context, req componentRequest) (rcaResponse, error) {
	failures := a.failures[req.Component]
	if len(failures) == 0 {
		return rcaResponse{}, domain.InvalidPayload("no failure data for %q", req.Component)
	}

	c := req.Component
	report := RCAReport{
		ReportID:         domain.NewID("RCA"),
		Component:        c,
		TotalIncidents:   len(failures),
		AffectedVehicles: affectedVehicles(failures),
		RootCauses: []RootCause{
			{Cause: fmt.Sprintf("Material defect in %s manufacturing", c), Evidence: "High failure rate in specific production batches", Confidence: "high"},
			{Cause: "Inadequate quality control during assembly", Evidence: "Similar failure patterns across multiple batches", Confidence: "medium"},
			{Cause: "Design vulnerability under high-stress conditions", Evidence: "Failures occur at similar mileage/usage patterns", Confidence: "medium"},
		},
		CorrectiveActions: []CorrectiveAction{
			{Action: fmt.Sprintf("Immediate recall of affected %s batches", c), Priority: "critical", Timeline: "Immediate", ResponsibleTeam: "Quality Assurance"},
			{Action: "Enhanced inspection protocols for production line", Priority: "high", Timeline: "1 week", ResponsibleTeam: "Manufacturing"},
			{Action: "Supplier audit and material specification review", Priority: "high", Timeline: "2 weeks", ResponsibleTeam: "Supply Chain"},
		},
		PreventiveActions: []PreventiveAction{
			{Action: fmt.Sprintf("Redesign %s with improved materials", c), Timeline: "3 months", ExpectedImpact: "80% reduction in failures"},
			{Action: "Implement AI-powered quality inspection", Timeline: "2 months", ExpectedImpact: "95% defect detection rate"},
			{Action: "Enhanced supplier quality requirements", Timeline: "1 month", ExpectedImpact: "Improved component reliability"},
		},
		EstimatedCostImpact: len(failures) * costPerIncident,
		GeneratedAt:         agent.Timestamp(a.now()),
	}
	a.reports = append(a.reports, report)

	a.logger.Info("rca report generated", "report_id", report.ReportID, "component", c)
	return rcaResponse{Report: report}, nil
}

func (a *Agent) batchIssues(_ context.Context, req batchRequest) (batchResponse, error) {
	threshold := defaultThreshold
	if req.BatchThreshold != nil {
		threshold = *req.BatchThreshold
	}

	batches := analyzeBatches(a.failures[req.Component])
	problematic := []Batch{}
	for _, b := range batches {
		if b.FailureRate > threshold {
			problematic = append(problematic, b)
		}
	}

	recommendation := "No action needed"
	if len(problematic) > 0 {
		recommendation = "Immediate quality review required"
	}
	return batchResponse{
		Component:            req.Component,
		ProblematicBatches:   problematic,
		TotalBatchesAnalyzed: len(batches),
		Recommendation:       recommendation,
	}, nil
}

func affectedVehicles(failures []Failure) int {
	seen := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		seen[f.VehicleID] = struct{}{}
	}
	return len(seen)
}

// analyzeBatches groups failures by batch, highest failure rate first. Ties
// keep the order batches were first seen.
func analyzeBatches(failures []Failure) []Batch {
	index := make(map[string]int)
	batches := []Batch{}
	for _, f := range failures {
		id := f.BatchID
		if id == "" {
			id = unknownBatch
		}
		i, ok := index[id]
		if !ok {
			i = len(batches)
			index[id] = i
			batches = append(batches, Batch{BatchID: id, TotalVehicles: vehiclesPerBatch})
		}
		batches[i].Failures++
	}
	for i := range batches {
		batches[i].FailureRate = agent.Round(float64(batches[i].Failures)/vehiclesPerBatch, 3)
	}
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].FailureRate > batches[j].FailureRate })
	return batches
}
