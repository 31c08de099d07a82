// Package engagement implements the customer engagement agent: it writes call
// scripts, places outbound calls and interprets what the customer said.
package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskGenerateScript = "generate_voice_script"
	TaskInitiateCall   = "initiate_voice_call"
	TaskHandleResponse = "handle_customer_response"
	TaskCallHistory    = "call_history"
)

// Script sources.
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

// Customer intents and the follow-up action for each.
const (
	IntentAccept   = "accept_scheduling"
	IntentDecline  = "decline"
	IntentMoreInfo = "need_more_info"
	IntentUnknown  = "unknown"

	ActionSchedule = "proceed_to_scheduling"
	ActionEndCall  = "end_call_politely"
	ActionDetails  = "provide_details"
	ActionClarify  = "clarify"
)

const (
	defaultCustomer   = "valued customer"
	defaultComponent  = "a critical component"
	defaultConfidence = 0.85
	defaultDays       = 3
	historyLimit      = 500
)

// FailurePrediction is the part of a diagnosis a call talks about.
type FailurePrediction struct {
	Component         string   `json:"component"`
	Confidence        *float64 `json:"confidence"`
	TimeToFailureDays *int     `json:"time_to_failure_days"`
}

// Script is a generated call script.
type Script struct {
	ScriptID string `json:"script_id"`
	domain.VoiceScript
	Source string `json:"source"`
}

// CallRecord is one placed call.
type CallRecord struct {
	CallID           string `json:"call_id"`
	Timestamp        string `json:"timestamp"`
	CustomerPhone    string `json:"customer_phone"`
	VehicleID        string `json:"vehicle_id"`
	Script           Script `json:"script"`
	Status           string `json:"status"`
	Mode             string `json:"mode"`
	CustomerResponse string `json:"customer_response,omitempty"`
	Intent           string `json:"intent,omitempty"`
}

type scriptRequest struct {
	VehicleID         string            `json:"vehicle_id"`
	CustomerName      string            `json:"customer_name"`
	FailurePrediction FailurePrediction `json:"failure_prediction"`
}

type callRequest struct {
	CustomerPhone     string            `json:"customer_phone"`
	VehicleID         string            `json:"vehicle_id"`
	CustomerName      string            `json:"customer_name"`
	FailurePrediction FailurePrediction `json:"failure_prediction"`
}

type callResponse struct {
	CallID      string             `json:"call_id"`
	Message     string             `json:"message"`
	Script      Script             `json:"script"`
	CallDetails *domain.CallResult `json:"call_details"`
}

type responseRequest struct {
	CallID       string `json:"call_id"`
	ResponseText string `json:"response_text"`
}

type responseResult struct {
	CallID  string `json:"call_id,omitempty"`
	Intent  string `json:"intent"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

type historyRequest struct {
	VehicleID string `json:"vehicle_id"`
}

type historyResponse struct {
	Calls []CallRecord `json:"calls"`
	Count int          `json:"count"`
}

const predictionSchema = `{
  "type": "object",
  "properties": {
    "component": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "time_to_failure_days": {"type": "integer", "minimum": 0}
  }
}`

const scriptSchema = `{
  "type": "object",
  "properties": {
    "vehicle_id": {"type": "string"},
    "customer_name": {"type": "string"},
    "failure_prediction": ` + predictionSchema + `
  }
}`

const callSchema = `{
  "type": "object",
  "required": ["customer_phone", "vehicle_id"],
  "properties": {
    "customer_phone": {"type": "string", "minLength": 1},
    "vehicle_id": {"type": "string", "minLength": 1},
    "customer_name": {"type": "string"},
    "failure_prediction": ` + predictionSchema + `
  }
}`

const responseSchema = `{
  "type": "object",
  "required": ["response_text"],
  "properties": {
    "call_id": {"type": "string"},
    "response_text": {"type": "string"}
  }
}`

const historySchema = `{
  "type": "object",
  "properties": {"vehicle_id": {"type": "string"}}
}`

// Agent talks to customers. model may be nil, in which case scripts come
// from the built-in template.
type Agent struct {
	agent.Base
	voice  domain.VoiceTransport
	model  domain.LanguageModel
	now    agent.Clock
	logger *slog.Logger
	calls  []CallRecord
}

// New creates the engagement agent.
func New(cfg config.AgentConfig, voice domain.VoiceTransport, model domain.LanguageModel, logger *slog.Logger) *Agent {
	return &Agent{
		Base:   agent.NewBase(cfg, "Contacts customers about predicted failures"),
		voice:  voice,
		model:  model,
		now:    time.Now,
		logger: logger,
	}
}

// Initialize checks the voice transport is wired.
func (a *Agent) Initialize(context.Context) error {
	if a.voice == nil {
		return fmt.Errorf("voice transport is required: %w", domain.ErrInvalidInput)
	}
	return nil
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskGenerateScript, Schema: scriptSchema, Handle: agent.Handle(a.generateScript)},
		{Type: TaskInitiateCall, Schema: callSchema, Handle: agent.Handle(a.initiateCall)},
		{Type: TaskHandleResponse, Schema: responseSchema, Handle: agent.Handle(a.handleResponse)},
		{Type: TaskCallHistory, Schema: historySchema, Handle: agent.Handle(a.callHistory)},
	}
}

func (a *Agent) generateScript(ctx context.Context, req scriptRequest) (Script, error) {
	return a.script(ctx, req.CustomerName, req.FailurePrediction), nil
}

func (a *Agent) initiateCall(ctx context.Context, req callRequest) (callResponse, error) {
	script := a.script(ctx, req.CustomerName, req.FailurePrediction)

	result, err := a.voice.PlaceCall(ctx, domain.CallRequest{
		To:           req.CustomerPhone,
		CustomerName: customerName(req.CustomerName),
		VehicleID:    req.VehicleID,
		Script:       script.VoiceScript,
	})
	if err != nil {
		return callResponse{}, domain.CollaboratorFailure("voice", err)
	}

	a.calls = append(a.calls, CallRecord{
		CallID:        result.CallID,
		Timestamp:     agent.Timestamp(a.now()),
		CustomerPhone: req.CustomerPhone,
		VehicleID:     req.VehicleID,
		Script:        script,
		Status:        result.Status,
		Mode:          result.Mode,
	})
	if len(a.calls) > historyLimit {
		a.calls = a.calls[len(a.calls)-historyLimit:]
	}

	a.logger.Info("voice call placed", "call_id", result.CallID, "vehicle_id", req.VehicleID, "mode", result.Mode, "script_source", script.Source)
	return callResponse{
		CallID:      result.CallID,
		Message:     "Voice call initiated successfully",
		Script:      script,
		CallDetails: result,
	}, nil
}

func (a *Agent) handleResponse(_ context.Context, req responseRequest) (responseResult, error) {
	intent := DetectIntent(req.ResponseText)
	out := responseResult{CallID: req.CallID, Intent: intent}
	switch intent {
	case IntentAccept:
		out.Action, out.Message = ActionSchedule, "Customer wants to schedule appointment"
	case IntentMoreInfo:
		out.Action, out.Message = ActionDetails, "Customer needs more information"
	case IntentDecline:
		out.Action, out.Message = ActionEndCall, "Customer declined service"
	default:
		out.Action, out.Message = ActionClarify, "Need clarification from customer"
	}

	for i := range a.calls {
		if req.CallID != "" && a.calls[i].CallID == req.CallID {
			a.calls[i].CustomerResponse = req.ResponseText
			a.calls[i].Intent = intent
		}
	}
	return out, nil
}

func (a *Agent) callHistory(_ context.Context, req historyRequest) (historyResponse, error) {
	calls := []CallRecord{}
	for _, c := range a.calls {
		if req.VehicleID == "" || c.VehicleID == req.VehicleID {
			calls = append(calls, c)
		}
	}
	return historyResponse{Calls: calls, Count: len(calls)}, nil
}

// DetectIntent classifies a spoken reply by keyword. Acceptance is checked
// first, then decline, then requests for more information.
func DetectIntent(text string) string {
	lower := strings.ToLower(text)
	containsAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	switch {
	case containsAny("yes", "sure", "okay", "schedule", "book"):
		return IntentAccept
	case containsAny("no", "not now", "later", "decline"):
		return IntentDecline
	case containsAny("why", "how", "what", "explain", "tell me more"):
		return IntentMoreInfo
	default:
		return IntentUnknown
	}
}

func (a *Agent) script(ctx context.Context, name string, p FailurePrediction) Script {
	name = customerName(name)
	component := p.Component
	if component == "" {
		component = defaultComponent
	}
	confidence := defaultConfidence
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	days := defaultDays
	if p.TimeToFailureDays != nil {
		days = *p.TimeToFailureDays
	}

	id := "script-" + a.now().UTC().Format("20060102150405")
	if a.model != nil {
		s, err := a.modelScript(ctx, name, component, confidence*100, days)
		if err == nil {
			return Script{ScriptID: id, VoiceScript: s, Source: SourceLLM}
		}
		a.logger.Warn("model script failed, using template", "error", err)
	}
	return Script{ScriptID: id, VoiceScript: templateScript(name, component, confidence*100, days), Source: SourceTemplate}
}

func (a *Agent) modelScript(ctx context.Context, name, component string, confidence float64, days int) (domain.VoiceScript, error) {
	prompt := fmt.Sprintf(`Generate a natural, empathetic phone call script for a predictive maintenance assistant calling a customer.

Context:
- Customer name: %s
- Component predicted to fail: %s
- Prediction confidence: %.0f%%
- Estimated days until failure: %d

The script should be warm, avoid causing panic, explain the issue clearly and offer to schedule service.

Format as JSON with: greeting, issue_explanation, recommendation, scheduling_offer, closing`, name, component, confidence, days)

	text, err := a.model.Complete(ctx, prompt)
	if err != nil {
		return domain.VoiceScript{}, err
	}
	return parseScript(text)
}

// parseScript extracts the outermost JSON object from model output.
func parseScript(text string) (domain.VoiceScript, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.VoiceScript{}, fmt.Errorf("no JSON object in model output")
	}
	var s domain.VoiceScript
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return domain.VoiceScript{}, fmt.Errorf("parse model script: %w", err)
	}
	if s.Greeting == "" || s.IssueExplanation == "" {
		return domain.VoiceScript{}, fmt.Errorf("model script is missing sections")
	}
	if s.Tone == "" {
		s.Tone = templateTone
	}
	return s, nil
}

const templateTone = "warm, empathetic, reassuring"

func templateScript(name, component string, confidence float64, days int) domain.VoiceScript {
	return domain.VoiceScript{
		Greeting: fmt.Sprintf("Hello %s, this is your vehicle's AI assistant calling. I hope you're having a great day!", name),
		IssueExplanation: fmt.Sprintf("I'm reaching out because our advanced diagnostic system has detected that your %s might need attention soon. "+
			"Based on our analysis with %.0f%% confidence, we predict it could fail within the next %d days.", component, confidence, days),
		Recommendation:  "While your vehicle is still safe to drive, we recommend scheduling a service appointment to prevent any inconvenience or potential breakdown.",
		SchedulingOffer: "I can help you schedule an appointment right now at a service center near you. Would you like me to check available times?",
		Closing:         "Your safety and peace of mind are our top priorities. Thank you for trusting us with your vehicle's care!",
		Tone:            templateTone,
	}
}

func customerName(name string) string {
	if strings.TrimSpace(name) == "" {
		return defaultCustomer
	}
	return name
}
