package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/multiagent"
)

func newTestAgent(t *testing.T) (*Agent, *multiagent.Runtime) {
	t.Helper()
	a := New(config.TelemetryAgentConfig{
		AgentConfig:   config.AgentConfig{Enabled: true, ID: "agent-data-analysis-001", Name: "DataAnalysisAgent"},
		RiskThreshold: 0.7,
	}, logger.Discard())
	a.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	rt, err := multiagent.NewRuntime(a, multiagent.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	return a, rt
}

func sample() domain.Payload {
	return domain.Payload{
		"vehicle_id": "VIN12345",
		"telemetry": map[string]any{
			"engine_temperature":  105,
			"battery_voltage":     12.2,
			"oil_pressure":        45,
			"coolant_temperature": 92,
			"rpm":                 3500,
			"speed":               80,
		},
	}
}

func TestAnalyzeSample(t *testing.T) {
	_, rt := newTestAgent(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskAnalyze, sample()))
	require.NoError(t, err)

	var res Analysis
	require.NoError(t, domain.DecodePayload(out, &res))
	assert.Equal(t, "VIN12345", res.VehicleID)
	assert.InDelta(t, 0.875, res.Features["engine_temp_norm"], 1e-9)
	assert.InDelta(t, 0.5104, res.Features["engine_load"], 1e-3)

	// oil pressure 45/80 = 0.5625 is above its 0.3 limit; battery 12.2/14.4 = 0.847 is in range.
	require.Len(t, res.Anomalies, 2)
	assert.Equal(t, "oil_pressure_norm", res.Anomalies[0].Feature)
	assert.Equal(t, "coolant_temp_norm", res.Anomalies[1].Feature)

	// (0.9 + 0.9) / 8 features
	assert.Equal(t, 0.23, res.RiskScore)
	assert.Equal(t, 77, res.HealthScore)
	assert.False(t, res.RequiresDiagnosis)
	assert.Equal(t, "2026-03-02T10:00:00Z", res.Timestamp)
}

func TestAnalyzeBatteryBands(t *testing.T) {
	tests := []struct {
		voltage  float64
		severity string
	}{
		{6.0, "high"},    // 0.42
		{9.0, "medium"},  // 0.625
		{16.5, "medium"}, // 1.146
		{12.6, ""},       // 0.875
	}
	for _, tt := range tests {
		anomalies := detectAnomalies(extractFeatures(Readings{BatteryVoltage: tt.voltage}))
		var got string
		for _, a := range anomalies {
			if a.Feature == featBattery {
				got = a.Severity
			}
		}
		assert.Equal(t, tt.severity, got, "voltage %v", tt.voltage)
	}
}

func TestRiskScoreNoAnomalies(t *testing.T) {
	assert.Equal(t, 0.0, riskScore(map[string]float64{"x": 1}, nil))
}

func TestAnalyzeRejectsMissingReadings(t *testing.T) {
	_, rt := newTestAgent(t)

	p := sample()
	delete(p["telemetry"].(map[string]any), "rpm")
	_, err := rt.Process(context.Background(), domain.NewTask(TaskAnalyze, p))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	p = sample()
	p["telemetry"].(map[string]any)["speed"] = "fast"
	_, err = rt.Process(context.Background(), domain.NewTask(TaskAnalyze, p))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestVehicleHistory(t *testing.T) {
	_, rt := newTestAgent(t)

	for i := 0; i < 2; i++ {
		_, err := rt.Process(context.Background(), domain.NewTask(TaskAnalyze, sample()))
		require.NoError(t, err)
	}
	out, err := rt.Process(context.Background(), domain.NewTask(TaskHistory, domain.Payload{"vehicle_id": "VIN12345"}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out["count"])

	out, err = rt.Process(context.Background(), domain.NewTask(TaskHistory, domain.Payload{"vehicle_id": "OTHER"}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, out["count"])
	assert.Equal(t, []any{}, out["analyses"])
}

func TestHistoryIsBounded(t *testing.T) {
	a, _ := newTestAgent(t)
	req := analyzeRequest{VehicleID: "V", Telemetry: Readings{BatteryVoltage: 12.6}}
	for i := 0; i < historyLimit+5; i++ {
		_, err := a.analyze(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Len(t, a.history["V"], historyLimit)
}
