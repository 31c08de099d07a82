package domain

import (
	"context"
	"time"
)

// CallRequest describes an outbound customer voice call.
type CallRequest struct {
	To           string      `json:"to"`
	CustomerName string      `json:"customer_name,omitempty"`
	VehicleID    string      `json:"vehicle_id,omitempty"`
	Script       VoiceScript `json:"script"`
}

// CallResult is what a voice transport reports after placing a call.
type CallResult struct {
	CallID    string    `json:"call_id"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

// VoiceScript is the spoken content of a customer call.
type VoiceScript struct {
	Greeting         string `json:"greeting"`
	IssueExplanation string `json:"issue_explanation"`
	Recommendation   string `json:"recommendation"`
	SchedulingOffer  string `json:"scheduling_offer"`
	Closing          string `json:"closing"`
	Tone             string `json:"tone"`
}

// Sections returns the script parts in speaking order, skipping empty ones.
func (s VoiceScript) Sections() []string {
	var out []string
	for _, part := range []string{s.Greeting, s.IssueExplanation, s.Recommendation, s.SchedulingOffer, s.Closing} {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// VoiceTransport places outbound calls.
type VoiceTransport interface {
	PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error)
}

// LanguageModel completes a prompt.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// WorkingHours is a daily opening window in "15:04" form.
type WorkingHours struct {
	Open  string `json:"open"  yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

// ServiceCenter is a workshop customers can be booked into. Hours is keyed by
// lower-case weekday name; a missing day means closed.
type ServiceCenter struct {
	ID       string                  `json:"id"       yaml:"id"`
	Name     string                  `json:"name"     yaml:"name"`
	Address  string                  `json:"address"  yaml:"address"`
	Location GeoPoint                `json:"location" yaml:"location"`
	Phone    string                  `json:"phone"    yaml:"phone"`
	Rating   float64                 `json:"rating"   yaml:"rating"`
	Services []string                `json:"services" yaml:"services"`
	Hours    map[string]WorkingHours `json:"working_hours" yaml:"working_hours"`
}

// DTCInfo describes one diagnostic trouble code.
type DTCInfo struct {
	Code        string `json:"code"        yaml:"code"`
	Description string `json:"description" yaml:"description"`
	Severity    string `json:"severity"    yaml:"severity"`
	System      string `json:"system"      yaml:"system"`
}

// ReferenceSource supplies static reference data to agents.
type ReferenceSource interface {
	ServiceCenters(ctx context.Context) ([]ServiceCenter, error)
	DTCCodes(ctx context.Context) (map[string]DTCInfo, error)
}
