// Package security implements the behaviour analytics agent. It watches what
// the other agents do and raises alerts on sensitive or unusual activity.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskMonitor = "monitor_activity"
	TaskDetect  = "detect_anomaly"
	TaskReport  = "generate_security_report"
	TaskBlock   = "block_action"
	TaskStatus  = "security_status"
)

const (
	activityLimit      = 10000
	alertLimit         = 1000
	nightEndHour       = 6
	nightCallLimit     = 10
	failureRateLimit   = 0.3
	defaultWindowHours = 24
)

// Activity is one observed agent action.
type Activity struct {
	ActivityID    string         `json:"activity_id"`
	AgentID       string         `json:"agent_id"`
	AgentName     string         `json:"agent_name"`
	Action        string         `json:"action"`
	Target        string         `json:"target,omitempty"`
	Timestamp     string         `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
	SecurityAlert *Alert         `json:"security_alert,omitempty"`

	at time.Time
}

// Alert is raised for an anomalous activity.
type Alert struct {
	AlertID   string   `json:"alert_id"`
	Severity  string   `json:"severity"`
	AgentID   string   `json:"agent_id"`
	AgentName string   `json:"agent_name"`
	Action    string   `json:"action"`
	Reasons   []string `json:"reasons"`
	Timestamp string   `json:"timestamp"`
	Status    string   `json:"status"`

	at time.Time
}

// Anomaly is a behaviour pattern found by detect_anomaly.
type Anomaly struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Report summarizes recent activity.
type Report struct {
	ReportID        string         `json:"report_id"`
	TimePeriodHours float64        `json:"time_period_hours"`
	TotalActivities int            `json:"total_activities"`
	TotalAlerts     int            `json:"total_alerts"`
	CriticalAlerts  int            `json:"critical_alerts"`
	HighAlerts      int            `json:"high_alerts"`
	AgentActivity   map[string]int `json:"agent_activity"`
	SecurityStatus  string         `json:"security_status"`
	GeneratedAt     string         `json:"generated_at"`
}

type monitorRequest struct {
	AgentID   string         `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

type monitorResponse struct {
	Activity        Activity `json:"activity"`
	AnomalyDetected bool     `json:"anomaly_detected"`
}

type detectRequest struct {
	AgentID         string   `json:"agent_id"`
	TimeWindowHours *float64 `json:"time_window_hours"`
}

type detectResponse struct {
	AgentID         string    `json:"agent_id"`
	Anomalies       []Anomaly `json:"anomalies"`
	TotalActivities int       `json:"total_activities"`
	IsAnomalous     bool      `json:"is_anomalous"`
}

type reportRequest struct {
	TimePeriodHours *float64 `json:"time_period_hours"`
}

type reportResponse struct {
	Report Report `json:"report"`
}

type blockRequest struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
	Reason  string `json:"reason"`
}

type blockRecord struct {
	BlockID   string `json:"block_id"`
	AgentID   string `json:"agent_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

type blockResponse struct {
	Blocked     bool        `json:"blocked"`
	BlockRecord blockRecord `json:"block_record"`
}

type statusResponse struct {
	Status                   string `json:"status"`
	TotalActivitiesMonitored int    `json:"total_activities_monitored"`
	ActiveAlerts             int    `json:"active_alerts"`
	CriticalAlerts           int    `json:"critical_alerts"`
	LastCheck                string `json:"last_check"`
}

const monitorSchema = `{
  "type": "object",
  "required": ["agent_id", "agent_name", "action"],
  "properties": {
    "agent_id": {"type": "string"},
    "agent_name": {"type": "string"},
    "action": {"type": "string", "minLength": 1},
    "target": {"type": "string"},
    "timestamp": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

const detectSchema = `{
  "type": "object",
  "required": ["agent_id"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "time_window_hours": {"type": "number", "exclusiveMinimum": 0}
  }
}`

const reportSchema = `{
  "type": "object",
  "properties": {"time_period_hours": {"type": "number", "exclusiveMinimum": 0}}
}`

const blockSchema = `{
  "type": "object",
  "required": ["agent_id", "action", "reason"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "action": {"type": "string", "minLength": 1},
    "reason": {"type": "string"}
  }
}`

// Agent monitors fleet activity.
type Agent struct {
	agent.Base
	sensitive      []string
	maxCallsPerDay int
	activities     []Activity
	alerts         []Alert
	maxActivities  int
	maxAlerts      int
	now            agent.Clock
	logger         *slog.Logger
}

// New creates the security agent.
func New(cfg config.SecurityAgentConfig, logger *slog.Logger) *Agent {
	sensitive := cfg.SensitiveActions
	if len(sensitive) == 0 {
		sensitive = []string{"delete_data", "modify_pricing", "access_credentials"}
	}
	maxCalls := cfg.MaxCallsPerDay
	if maxCalls <= 0 {
		maxCalls = 100
	}
	return &Agent{
		Base:           agent.NewBase(cfg.AgentConfig, "Monitors agent behaviour and raises security alerts"),
		sensitive:      sensitive,
		maxCallsPerDay: maxCalls,
		maxActivities:  activityLimit,
		maxAlerts:      alertLimit,
		now:            time.Now,
		logger:         logger,
	}
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskMonitor, Schema: monitorSchema, Handle: agent.Handle(a.monitor)},
		{Type: TaskDetect, Schema: detectSchema, Handle: agent.Handle(a.detect)},
		{Type: TaskReport, Schema: reportSchema, Handle: agent.Handle(a.report)},
		{Type: TaskBlock, Schema: blockSchema, Handle: agent.Handle(a.block)},
		{Type: TaskStatus, Handle: agent.Handle(a.status)},
	}
}

func (a *Agent) monitor(_ context.Context, req monitorRequest) (monitorResponse, error) {
	at := a.now()
	if req.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			return monitorResponse{}, domain.InvalidPayload("timestamp: %v", err)
		}
		at = t
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	act := Activity{
		ActivityID: domain.NewID("ACT"),
		AgentID:    req.AgentID,
		AgentName:  req.AgentName,
		Action:     req.Action,
		Target:     req.Target,
		Timestamp:  agent.Timestamp(at),
		Metadata:   metadata,
		at:         at,
	}

	reasons, severity := a.inspect(act)
	if len(reasons) > 0 {
		alert := Alert{
			AlertID:   domain.NewID("ALT"),
			Severity:  severity,
			AgentID:   act.AgentID,
			AgentName: act.AgentName,
			Action:    act.Action,
			Reasons:   reasons,
			Timestamp: agent.Timestamp(a.now()),
			Status:    "active",
			at:        a.now(),
		}
		a.alerts = keepLast(append(a.alerts, alert), a.maxAlerts)
		act.SecurityAlert = &alert
		a.logger.Warn("security alert raised", "alert_id", alert.AlertID, "severity", severity, "agent", act.AgentName, "action", act.Action)
	}

	a.activities = keepLast(append(a.activities, act), a.maxActivities)
	return monitorResponse{Activity: act, AnomalyDetected: len(reasons) > 0}, nil
}

// inspect applies the per-activity rules. An admin target outranks a
// sensitive action.
func (a *Agent) inspect(act Activity) ([]string, string) {
	var reasons []string
	severity := "low"
	if slices.Contains(a.sensitive, act.Action) {
		reasons = append(reasons, "Sensitive action: "+act.Action)
		severity = "high"
	}
	if strings.HasPrefix(act.Target, "admin") {
		reasons = append(reasons, "Attempted access to admin resources")
		severity = "critical"
	}
	return reasons, severity
}

func (a *Agent) detect(_ context.Context, req detectRequest) (detectResponse, error) {
	window := windowHours(req.TimeWindowHours)
	now := a.now()
	cutoff := now.Add(-time.Duration(window * float64(time.Hour)))

	var recent []Activity
	for _, act := range a.activities {
		if act.AgentID == req.AgentID && act.at.After(cutoff) {
			recent = append(recent, act)
		}
	}

	anomalies := []Anomaly{}
	if len(recent) > a.maxCallsPerDay {
		anomalies = append(anomalies, Anomaly{
			Type:        "excessive_calls",
			Severity:    "medium",
			Description: fmt.Sprintf("Agent made %d calls in %gh", len(recent), window),
		})
	}

	night, failed := 0, 0
	for _, act := range recent {
		if act.at.In(now.Location()).Hour() < nightEndHour {
			night++
		}
		if status, _ := act.Metadata["status"].(string); status == "failed" {
			failed++
		}
	}
	if night > nightCallLimit {
		anomalies = append(anomalies, Anomaly{
			Type:        "unusual_timing",
			Severity:    "low",
			Description: fmt.Sprintf("%d activities during night hours", night),
		})
	}
	if len(recent) > 0 {
		if rate := float64(failed) / float64(len(recent)); rate > failureRateLimit {
			anomalies = append(anomalies, Anomaly{
				Type:        "high_failure_rate",
				Severity:    "high",
				Description: fmt.Sprintf("Failure rate: %.1f%%", rate*100),
			})
		}
	}

	a.logger.Info("anomaly detection complete", "agent_id", req.AgentID, "anomalies", len(anomalies))
	return detectResponse{
		AgentID:         req.AgentID,
		Anomalies:       anomalies,
		TotalActivities: len(recent),
		IsAnomalous:     len(anomalies) > 0,
	}, nil
}

func (a *Agent) report(_ context.Context, req reportRequest) (reportResponse, error) {
	period := windowHours(req.TimePeriodHours)
	now := a.now()
	cutoff := now.Add(-time.Duration(period * float64(time.Hour)))

	r := Report{
		ReportID:        domain.NewID("SEC"),
		TimePeriodHours: period,
		AgentActivity:   map[string]int{},
		GeneratedAt:     agent.Timestamp(now),
	}
	for _, act := range a.activities {
		if act.at.After(cutoff) {
			r.TotalActivities++
			r.AgentActivity[act.AgentName]++
		}
	}
	for _, al := range a.alerts {
		if !al.at.After(cutoff) {
			continue
		}
		r.TotalAlerts++
		switch al.Severity {
		case "critical":
			r.CriticalAlerts++
		case "high":
			r.HighAlerts++
		}
	}
	r.SecurityStatus = "SECURE"
	if r.TotalAlerts > 0 {
		r.SecurityStatus = "MONITORING"
	}
	return reportResponse{Report: r}, nil
}

// keepLast drops the oldest entries of s beyond n. The kept tail is copied
// so the dropped prefix can be collected.
func keepLast[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return append(make([]T, 0, n), s[len(s)-n:]...)
}

func (a *Agent) block(_ context.Context, req blockRequest) (blockResponse, error) {
	rec := blockRecord{
		BlockID:   domain.NewID("BLK"),
		AgentID:   req.AgentID,
		Action:    req.Action,
		Reason:    req.Reason,
		Timestamp: agent.Timestamp(a.now()),
	}
	a.logger.Warn("action blocked", "agent_id", req.AgentID, "action", req.Action, "reason", req.Reason)
	return blockResponse{Blocked: true, BlockRecord: rec}, nil
}

func (a *Agent) status(_ context.Context, _ struct{}) (statusResponse, error) {
	out := statusResponse{
		Status:                   "SECURE",
		TotalActivitiesMonitored: len(a.activities),
		LastCheck:                agent.Timestamp(a.now()),
	}
	for _, al := range a.alerts {
		if al.Status != "active" {
			continue
		}
		out.ActiveAlerts++
		if al.Severity == "critical" {
			out.CriticalAlerts++
		}
	}
	if out.ActiveAlerts > 0 {
		out.Status = "ALERT"
	}
	return out, nil
}

func windowHours(v *float64) float64 {
	if v == nil || *v <= 0 {
		return defaultWindowHours
	}
	return *v
}
