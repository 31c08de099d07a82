package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/tracer"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioOptions holds Twilio credentials and call settings.
type TwilioOptions struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CallbackURL string
	BaseURL     string
	Timeout     time.Duration
}

// Twilio places calls through the Twilio REST API with inline TwiML.
type Twilio struct {
	opts   TwilioOptions
	client *http.Client
	logger *slog.Logger
}

var _ domain.VoiceTransport = (*Twilio)(nil)

// NewTwilio creates a Twilio transport.
func NewTwilio(opts TwilioOptions, logger *slog.Logger) *Twilio {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultTwilioBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Twilio{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// PlaceCall implements domain.VoiceTransport.
func (t *Twilio) PlaceCall(ctx context.Context, req domain.CallRequest) (*domain.CallResult, error) {
	ctx, span := tracer.StartSpan(ctx, "voice.place_call",
		trace.WithAttributes(tracer.StringAttr("voice.provider", "twilio")),
	)
	var err error
	defer func() { tracer.End(span, err) }()

	if err = validateNumber(req.To); err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", t.opts.BaseURL, t.opts.AccountSID)
	form := url.Values{
		"To":    {req.To},
		"From":  {t.opts.FromNumber},
		"Twiml": {buildTwiML(req.Script)},
	}
	if t.opts.CallbackURL != "" {
		form.Set("StatusCallback", t.opts.CallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
		form.Set("StatusCallbackMethod", "POST")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(t.opts.AccountSID, t.opts.AuthToken)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("twilio api call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("twilio api error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, err
	}

	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse twilio response: %w", err)
	}

	t.logger.Info("voice call placed", "call_id", result.SID, "status", result.Status, "vehicle_id", req.VehicleID)
	return &domain.CallResult{
		CallID:    result.SID,
		Status:    result.Status,
		Mode:      "twilio",
		StartedAt: time.Now().UTC(),
	}, nil
}

// buildTwiML speaks every script section and gathers a spoken answer to the
// scheduling offer.
func buildTwiML(s domain.VoiceScript) string {
	var b strings.Builder
	b.WriteString("<Response>")
	for _, part := range []string{s.Greeting, s.IssueExplanation, s.Recommendation} {
		if part != "" {
			fmt.Fprintf(&b, "<Say>%s</Say>", xmlEscape(part))
		}
	}
	if s.SchedulingOffer != "" {
		fmt.Fprintf(&b, `<Gather input="speech" timeout="5"><Say>%s</Say></Gather>`, xmlEscape(s.SchedulingOffer))
	}
	if s.Closing != "" {
		fmt.Fprintf(&b, "<Say>%s</Say>", xmlEscape(s.Closing))
	}
	b.WriteString("<Hangup/></Response>")
	return b.String()
}

// xmlEscape escapes special characters for TwiML content.
func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
