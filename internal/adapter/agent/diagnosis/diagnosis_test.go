package diagnosis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcare/internal/adapter/reference"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/logger"
	"fleetcare/internal/usecase/multiagent"
)

var testConfig = config.AgentConfig{Enabled: true, ID: "agent-diagnosis-001", Name: "DiagnosisAgent"}

type failingSource struct{}

func (failingSource) ServiceCenters(context.Context) ([]domain.ServiceCenter, error) {
	return nil, errors.New("unavailable")
}

func (failingSource) DTCCodes(context.Context) (map[string]domain.DTCInfo, error) {
	return nil, errors.New("unavailable")
}

func startedRuntime(t *testing.T) *multiagent.Runtime {
	t.Helper()
	src, err := reference.Load("")
	require.NoError(t, err)

	a := New(testConfig, src, logger.Discard())
	a.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	rt, err := multiagent.NewRuntime(a, multiagent.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	return rt
}

func decode(t *testing.T, p domain.Payload) Diagnosis {
	t.Helper()
	var d Diagnosis
	require.NoError(t, domain.DecodePayload(p, &d))
	return d
}

func TestPredictHighSeverity(t *testing.T) {
	rt := startedRuntime(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskPredictFailure, domain.Payload{
		"vehicle_id": "VIN12345",
		"anomalies": []any{
			map[string]any{"feature": "battery_voltage_norm", "value": 0.45, "severity": "high"},
			map[string]any{"feature": "oil_pressure_norm", "value": 0.56, "severity": "medium"},
		},
	}))
	require.NoError(t, err)

	d := decode(t, out)
	require.Len(t, d.Predictions, 2)
	assert.Equal(t, "Battery/Alternator", d.Predictions[0].Component)
	assert.Equal(t, "imminent_failure", d.Predictions[0].FailureType)
	assert.Equal(t, "Oil Pump", d.Predictions[1].Component)
	assert.Equal(t, "degradation", d.Predictions[1].FailureType)

	assert.Equal(t, "high", d.Severity)
	assert.Equal(t, 3, d.TimeToFailureDays)
	assert.True(t, d.RequiresImmediateAction)
	assert.False(t, d.DTCAnalysis.HasDTC)
	assert.Equal(t, []string{
		"Schedule immediate inspection",
		"Avoid long-distance travel",
		"Inspect Battery/Alternator",
		"Check alternator and battery terminals",
		"Inspect Oil Pump",
	}, d.Recommendations)

	require.NotNil(t, d.Prediction)
	assert.Equal(t, "Battery/Alternator", d.Prediction.Component)
}

func TestPredictNothingFound(t *testing.T) {
	rt := startedRuntime(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskPredictFailure, domain.Payload{"vehicle_id": "V"}))
	require.NoError(t, err)

	d := decode(t, out)
	assert.Empty(t, d.Predictions)
	assert.Nil(t, d.Prediction)
	assert.Equal(t, "low", d.Severity)
	assert.Equal(t, 14, d.TimeToFailureDays)
	assert.False(t, d.RequiresImmediateAction)
	assert.Empty(t, d.Recommendations)
}

func TestPredictWithTroubleCodes(t *testing.T) {
	rt := startedRuntime(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskPredictFailure, domain.Payload{
		"vehicle_id": "V",
		"anomalies":  []any{map[string]any{"feature": "coolant_temp_norm", "severity": "low"}},
		"dtc_codes":  []any{"P0420", "P9999"},
	}))
	require.NoError(t, err)

	d := decode(t, out)
	require.True(t, d.DTCAnalysis.HasDTC)
	require.Len(t, d.DTCAnalysis.Codes, 2)
	assert.Equal(t, "emissions", d.DTCAnalysis.Codes[0].System)
	assert.Equal(t, "Unknown code", d.DTCAnalysis.Codes[1].Description)
	assert.Equal(t, "medium", d.DTCAnalysis.Codes[1].Severity)

	// low confidence contributes nothing, the codes make it medium
	assert.Equal(t, "medium", d.Severity)
	assert.Equal(t, 7, d.TimeToFailureDays)
	assert.Contains(t, d.Recommendations, "Check coolant level and radiator")
}

func TestPredictTroubleCodeEscalates(t *testing.T) {
	rt := startedRuntime(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskPredictFailure, domain.Payload{
		"vehicle_id": "V",
		"dtc_codes":  []any{"P0300"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "high", decode(t, out).Severity)
}

func TestUnknownFeatureComponent(t *testing.T) {
	p := predictFailures([]Anomaly{{Feature: "tyre_pressure", Severity: "medium"}})
	require.Len(t, p, 1)
	assert.Equal(t, "Unknown Component", p[0].Component)
	assert.Equal(t, 0.82, p[0].Confidence)
}

func TestLookupDTC(t *testing.T) {
	rt := startedRuntime(t)

	out, err := rt.Process(context.Background(), domain.NewTask(TaskLookupDTC, domain.Payload{"code": "p0171"}))
	require.NoError(t, err)
	assert.Equal(t, true, out["known"])
	assert.Equal(t, "P0171", out["code"])
	assert.Equal(t, "fuel", out["system"])

	out, err = rt.Process(context.Background(), domain.NewTask(TaskLookupDTC, domain.Payload{"code": "B1234"}))
	require.NoError(t, err)
	assert.Equal(t, false, out["known"])
	assert.Equal(t, "Unknown code", out["description"])
}

func TestInitializeFailureLeavesAgentErrored(t *testing.T) {
	rt, err := multiagent.NewRuntime(New(testConfig, failingSource{}, logger.Discard()), multiagent.WithLogger(logger.Discard()))
	require.NoError(t, err)

	err = rt.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateErrored, rt.Status().State)
}
