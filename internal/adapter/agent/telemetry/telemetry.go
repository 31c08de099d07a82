// Package telemetry implements the data analysis agent: it normalizes raw
// vehicle telemetry, flags out-of-range readings and scores failure risk.
package telemetry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskAnalyze = "analyze_telemetry"
	TaskHistory = "vehicle_history"
)

const historyLimit = 100

// Readings are the raw sensor values of one telemetry sample.
type Readings struct {
	EngineTemperature  float64 `json:"engine_temperature"`
	BatteryVoltage     float64 `json:"battery_voltage"`
	OilPressure        float64 `json:"oil_pressure"`
	CoolantTemperature float64 `json:"coolant_temperature"`
	RPM                float64 `json:"rpm"`
	Speed              float64 `json:"speed"`
}

// Anomaly is one feature outside its expected range.
type Anomaly struct {
	Feature  string  `json:"feature"`
	Value    float64 `json:"value"`
	Severity string  `json:"severity"`
}

// Analysis is the result of analyze_telemetry.
type Analysis struct {
	VehicleID         string             `json:"vehicle_id"`
	Features          map[string]float64 `json:"features"`
	Anomalies         []Anomaly          `json:"anomalies"`
	RiskScore         float64            `json:"risk_score"`
	HealthScore       int                `json:"health_score"`
	RequiresDiagnosis bool               `json:"requires_diagnosis"`
	Timestamp         string             `json:"timestamp"`
}

type analyzeRequest struct {
	VehicleID string   `json:"vehicle_id"`
	Telemetry Readings `json:"telemetry"`
}

type historyRequest struct {
	VehicleID string `json:"vehicle_id"`
}

type historyResponse struct {
	VehicleID string     `json:"vehicle_id"`
	Analyses  []Analysis `json:"analyses"`
	Count     int        `json:"count"`
}

const analyzeSchema = `{
  "type": "object",
  "required": ["vehicle_id", "telemetry"],
  "properties": {
    "vehicle_id": {"type": "string", "minLength": 1},
    "telemetry": {
      "type": "object",
      "required": ["engine_temperature", "battery_voltage", "oil_pressure", "coolant_temperature", "rpm", "speed"],
      "properties": {
        "engine_temperature": {"type": "number"},
        "battery_voltage": {"type": "number"},
        "oil_pressure": {"type": "number"},
        "coolant_temperature": {"type": "number"},
        "rpm": {"type": "number"},
        "speed": {"type": "number"}
      }
    }
  }
}`

const historySchema = `{
  "type": "object",
  "required": ["vehicle_id"],
  "properties": {"vehicle_id": {"type": "string", "minLength": 1}}
}`

// Feature names in evaluation order.
const (
	featEngineTemp  = "engine_temp_norm"
	featBattery     = "battery_voltage_norm"
	featOilPressure = "oil_pressure_norm"
	featCoolantTemp = "coolant_temp_norm"
	featRPM         = "rpm_norm"
	featSpeed       = "speed_norm"
	featEngineLoad  = "engine_load"
	featPowerDemand = "power_demand"
)

var severityWeights = map[string]float64{"low": 0.3, "medium": 0.6, "high": 0.9, "critical": 1.0}

// Agent analyzes telemetry. Handlers run one at a time, so history needs no lock.
type Agent struct {
	agent.Base
	riskThreshold float64
	now           agent.Clock
	logger        *slog.Logger
	history       map[string][]Analysis
}

// New creates the telemetry agent.
func New(cfg config.TelemetryAgentConfig, logger *slog.Logger) *Agent {
	threshold := cfg.RiskThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Agent{
		Base:          agent.NewBase(cfg.AgentConfig, "Processes vehicle telemetry and detects anomalies"),
		riskThreshold: threshold,
		now:           time.Now,
		logger:        logger,
		history:       make(map[string][]Analysis),
	}
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskAnalyze, Schema: analyzeSchema, Handle: agent.Handle(a.analyze)},
		{Type: TaskHistory, Schema: historySchema, Handle: agent.Handle(a.vehicleHistory)},
	}
}

func (a *Agent) analyze(_ context.Context, req analyzeRequest) (Analysis, error) {
	features := extractFeatures(req.Telemetry)
	anomalies := detectAnomalies(features)
	risk := riskScore(features, anomalies)

	result := Analysis{
		VehicleID:         req.VehicleID,
		Features:          features,
		Anomalies:         anomalies,
		RiskScore:         risk,
		HealthScore:       int(math.Round((1 - risk) * 100)),
		RequiresDiagnosis: risk > a.riskThreshold,
		Timestamp:         agent.Timestamp(a.now()),
	}

	h := append(a.history[req.VehicleID], result)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	a.history[req.VehicleID] = h

	a.logger.Info("telemetry analyzed", "vehicle_id", req.VehicleID, "risk_score", risk, "anomalies", len(anomalies))
	return result, nil
}

func (a *Agent) vehicleHistory(_ context.Context, req historyRequest) (historyResponse, error) {
	analyses := append([]Analysis{}, a.history[req.VehicleID]...)
	return historyResponse{VehicleID: req.VehicleID, Analyses: analyses, Count: len(analyses)}, nil
}

func extractFeatures(r Readings) map[string]float64 {
	f := map[string]float64{
		featEngineTemp:  r.EngineTemperature / 120.0,
		featBattery:     r.BatteryVoltage / 14.4,
		featOilPressure: r.OilPressure / 80.0,
		featCoolantTemp: r.CoolantTemperature / 100.0,
		featRPM:         r.RPM / 6000.0,
		featSpeed:       r.Speed / 200.0,
	}
	f[featEngineLoad] = f[featRPM] * f[featEngineTemp]
	f[featPowerDemand] = f[featRPM] * f[featSpeed]
	return f
}

func detectAnomalies(f map[string]float64) []Anomaly {
	anomalies := []Anomaly{}
	above := func(feature string, limit float64) {
		if v := f[feature]; v > limit {
			anomalies = append(anomalies, Anomaly{Feature: feature, Value: v, Severity: "high"})
		}
	}

	above(featEngineTemp, 0.9)
	if v := f[featBattery]; v < 0.7 || v > 1.1 {
		severity := "medium"
		if v < 0.5 {
			severity = "high"
		}
		anomalies = append(anomalies, Anomaly{Feature: featBattery, Value: v, Severity: severity})
	}
	above(featOilPressure, 0.3)
	above(featCoolantTemp, 0.9)
	return anomalies
}

// riskScore averages severity weights over every feature, capped at 1.
func riskScore(features map[string]float64, anomalies []Anomaly) float64 {
	if len(anomalies) == 0 {
		return 0
	}
	var total float64
	for _, an := range anomalies {
		w, ok := severityWeights[an.Severity]
		if !ok {
			w = 0.5
		}
		total += w
	}
	return agent.Round(math.Min(total/float64(len(features)), 1), 2)
}
