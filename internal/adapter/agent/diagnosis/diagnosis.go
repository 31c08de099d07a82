// Package diagnosis implements the diagnosis agent. It turns telemetry
// anomalies and trouble codes into component failure predictions.
package diagnosis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskPredictFailure = "predict_failure"
	TaskLookupDTC      = "lookup_dtc"
)

// Anomaly is a feature flagged by telemetry analysis.
type Anomaly struct {
	Feature  string  `json:"feature"`
	Value    float64 `json:"value"`
	Severity string  `json:"severity"`
}

// Prediction is a forecast failure of one component.
type Prediction struct {
	Component           string   `json:"component"`
	FailureType         string   `json:"failure_type"`
	Confidence          float64  `json:"confidence"`
	ContributingFactors []string `json:"contributing_factors"`
}

// DTCAnalysis describes the trouble codes reported with a diagnosis.
type DTCAnalysis struct {
	HasDTC bool             `json:"has_dtc"`
	Codes  []domain.DTCInfo `json:"codes,omitempty"`
}

// Diagnosis is the result of predict_failure.
type Diagnosis struct {
	VehicleID               string       `json:"vehicle_id"`
	Predictions             []Prediction `json:"predictions"`
	Prediction              *Prediction  `json:"prediction,omitempty"`
	DTCAnalysis             DTCAnalysis  `json:"dtc_analysis"`
	Severity                string       `json:"severity"`
	TimeToFailureDays       int          `json:"time_to_failure_days"`
	Recommendations         []string     `json:"recommendations"`
	RequiresImmediateAction bool         `json:"requires_immediate_action"`
	Timestamp               string       `json:"timestamp"`
}

type predictRequest struct {
	VehicleID string             `json:"vehicle_id"`
	Features  map[string]float64 `json:"features"`
	Anomalies []Anomaly          `json:"anomalies"`
	DTCCodes  []string           `json:"dtc_codes"`
}

type lookupRequest struct {
	Code string `json:"code"`
}

type lookupResponse struct {
	Known bool `json:"known"`
	domain.DTCInfo
}

const predictSchema = `{
  "type": "object",
  "required": ["vehicle_id"],
  "properties": {
    "vehicle_id": {"type": "string", "minLength": 1},
    "features": {"type": "object", "additionalProperties": {"type": "number"}},
    "anomalies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["feature"],
        "properties": {
          "feature": {"type": "string"},
          "value": {"type": "number"},
          "severity": {"type": "string"}
        }
      }
    },
    "dtc_codes": {"type": "array", "items": {"type": "string"}}
  }
}`

const lookupSchema = `{
  "type": "object",
  "required": ["code"],
  "properties": {"code": {"type": "string", "minLength": 1}}
}`

var components = map[string]string{
	"engine_temp_norm":     "Engine Cooling System",
	"battery_voltage_norm": "Battery/Alternator",
	"oil_pressure_norm":    "Oil Pump",
	"coolant_temp_norm":    "Cooling System",
}

var confidenceBySeverity = map[string]float64{
	"critical": 0.92,
	"high":     0.92,
	"medium":   0.82,
	"low":      0.76,
}

var severityRank = map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4}

var severityLabel = map[int]string{1: "low", 2: "medium", 3: "high", 4: "critical"}

var timeToFailure = map[string]int{"critical": 1, "high": 3, "medium": 7, "low": 14}

// Agent predicts failures. The DTC table is loaded at Initialize.
type Agent struct {
	agent.Base
	reference domain.ReferenceSource
	dtc       map[string]domain.DTCInfo
	now       agent.Clock
	logger    *slog.Logger
}

// New creates the diagnosis agent.
func New(cfg config.AgentConfig, reference domain.ReferenceSource, logger *slog.Logger) *Agent {
	return &Agent{
		Base:      agent.NewBase(cfg, "Predicts component failures and classifies severity"),
		reference: reference,
		now:       time.Now,
		logger:    logger,
	}
}

// Initialize loads the trouble code table.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.reference == nil {
		return fmt.Errorf("load dtc codes: no reference source: %w", domain.ErrInvalidInput)
	}
	codes, err := a.reference.DTCCodes(ctx)
	if err != nil {
		return fmt.Errorf("load dtc codes: %w", err)
	}
	a.dtc = codes
	a.logger.Info("dtc codes loaded", "count", len(codes))
	return nil
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskPredictFailure, Schema: predictSchema, Handle: agent.Handle(a.predict)},
		{Type: TaskLookupDTC, Schema: lookupSchema, Handle: agent.Handle(a.lookup)},
	}
}

func (a *Agent) predict(_ context.Context, req predictRequest) (Diagnosis, error) {
	predictions := predictFailures(req.Anomalies)
	dtc := a.analyzeDTC(req.DTCCodes)
	severity := classifySeverity(predictions, dtc)

	ttf, ok := timeToFailure[severity]
	if !ok {
		ttf = 30
	}

	result := Diagnosis{
		VehicleID:               req.VehicleID,
		Predictions:             predictions,
		DTCAnalysis:             dtc,
		Severity:                severity,
		TimeToFailureDays:       ttf,
		Recommendations:         recommendations(predictions, severity),
		RequiresImmediateAction: severity == "high" || severity == "critical",
		Timestamp:               agent.Timestamp(a.now()),
	}
	if top := topPrediction(predictions); top != nil {
		result.Prediction = top
	}

	a.logger.Info("diagnosis complete", "vehicle_id", req.VehicleID, "severity", severity, "predictions", len(predictions))
	return result, nil
}

func (a *Agent) lookup(_ context.Context, req lookupRequest) (lookupResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	info, ok := a.dtc[code]
	if !ok {
		return lookupResponse{Known: false, DTCInfo: unknownCode(code)}, nil
	}
	return lookupResponse{Known: true, DTCInfo: info}, nil
}

func predictFailures(anomalies []Anomaly) []Prediction {
	predictions := make([]Prediction, 0, len(anomalies))
	for _, an := range anomalies {
		component, ok := components[an.Feature]
		if !ok {
			component = "Unknown Component"
		}
		confidence, ok := confidenceBySeverity[an.Severity]
		if !ok {
			confidence = confidenceBySeverity["low"]
		}
		failureType := "degradation"
		if confidence >= 0.85 {
			failureType = "imminent_failure"
		}
		predictions = append(predictions, Prediction{
			Component:           component,
			FailureType:         failureType,
			Confidence:          confidence,
			ContributingFactors: []string{an.Feature},
		})
	}
	return predictions
}

func (a *Agent) analyzeDTC(codes []string) DTCAnalysis {
	if len(codes) == 0 {
		return DTCAnalysis{HasDTC: false}
	}
	analysis := DTCAnalysis{HasDTC: true, Codes: make([]domain.DTCInfo, 0, len(codes))}
	for _, code := range codes {
		info, ok := a.dtc[strings.ToUpper(code)]
		if !ok {
			info = unknownCode(code)
		}
		analysis.Codes = append(analysis.Codes, info)
	}
	return analysis
}

func unknownCode(code string) domain.DTCInfo {
	return domain.DTCInfo{Code: code, Description: "Unknown code", Severity: "medium", System: "unknown"}
}

func classifySeverity(predictions []Prediction, dtc DTCAnalysis) string {
	highest := 0
	for _, p := range predictions {
		switch {
		case p.Confidence > 0.9:
			highest = max(highest, severityRank["high"])
		case p.Confidence > 0.8:
			highest = max(highest, severityRank["medium"])
		}
	}
	for _, c := range dtc.Codes {
		rank, ok := severityRank[c.Severity]
		if !ok {
			rank = 1
		}
		highest = max(highest, rank)
	}
	if label, ok := severityLabel[highest]; ok {
		return label
	}
	return "low"
}

func recommendations(predictions []Prediction, severity string) []string {
	out := []string{}
	if severity == "critical" || severity == "high" {
		out = append(out, "Schedule immediate inspection", "Avoid long-distance travel")
	}
	for _, p := range predictions {
		out = append(out, "Inspect "+p.Component)
		switch {
		case strings.Contains(p.Component, "Battery"):
			out = append(out, "Check alternator and battery terminals")
		case strings.Contains(p.Component, "Cooling"):
			out = append(out, "Check coolant level and radiator")
		}
	}
	return out
}

// topPrediction returns the most confident prediction; ties keep input order.
func topPrediction(predictions []Prediction) *Prediction {
	if len(predictions) == 0 {
		return nil
	}
	sorted := make([]Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return &sorted[0]
}
