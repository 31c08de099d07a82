// Package booking implements the scheduling agent: service center search,
// slot availability and the appointment book.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"fleetcare/internal/adapter/agent"
	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
)

// Task types accepted by the agent.
const (
	TaskFindCenters  = "find_service_centers"
	TaskAvailability = "check_availability"
	TaskBook         = "book_appointment"
	TaskReschedule   = "reschedule_appointment"
	TaskCancel       = "cancel_appointment"
	TaskList         = "list_bookings"
)

// Booking statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

const (
	earthRadiusKM   = 6371.0
	unknownDistance = 999.9
	dateLayout      = "2006-01-02"
	maxDates        = 7
	slotStepHours   = 2
)

// CenterMatch is a service center with its distance from the customer.
type CenterMatch struct {
	domain.ServiceCenter
	DistanceKM float64 `json:"distance_km"`
}

// Slot is a bookable appointment time.
type Slot struct {
	SlotID          string `json:"slot_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DateTime        string `json:"datetime"`
	Available       bool   `json:"available"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Booking is a confirmed or cancelled appointment.
type Booking struct {
	BookingID          string `json:"booking_id"`
	ServiceCenterID    string `json:"service_center_id"`
	CustomerName       string `json:"customer_name"`
	CustomerPhone      string `json:"customer_phone"`
	VehicleID          string `json:"vehicle_id"`
	AppointmentTime    string `json:"appointment_time"`
	ServiceType        string `json:"service_type"`
	EstimatedDuration  int    `json:"estimated_duration"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
	Notes              string `json:"notes"`
	RescheduledAt      string `json:"rescheduled_at,omitempty"`
	RescheduledFrom    string `json:"rescheduled_from,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

// Confirmation is the notice sent to the customer after booking.
type Confirmation struct {
	Sent      bool   `json:"sent"`
	Method    string `json:"method"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type findRequest struct {
	CustomerLocation *domain.GeoPoint `json:"customer_location"`
	MaxDistanceKM    *float64         `json:"max_distance_km"`
	ServiceType      string           `json:"service_type"`
}

type findResponse struct {
	ServiceCenters []CenterMatch `json:"service_centers"`
	Count          int           `json:"count"`
}

type availabilityRequest struct {
	ServiceCenterID        string   `json:"service_center_id"`
	PreferredDates         []string `json:"preferred_dates"`
	ServiceDurationMinutes int      `json:"service_duration_minutes"`
}

type availabilityResponse struct {
	ServiceCenter  domain.ServiceCenter `json:"service_center"`
	AvailableSlots []Slot               `json:"available_slots"`
	Count          int                  `json:"count"`
}

type bookRequest struct {
	ServiceCenterID   string `json:"service_center_id"`
	CustomerName      string `json:"customer_name"`
	CustomerPhone     string `json:"customer_phone"`
	VehicleID         string `json:"vehicle_id"`
	AppointmentTime   string `json:"appointment_time"`
	ServiceType       string `json:"service_type"`
	EstimatedDuration int    `json:"estimated_duration"`
	Notes             string `json:"notes"`
}

type bookResponse struct {
	Booking      Booking      `json:"booking"`
	Confirmation Confirmation `json:"confirmation"`
	Message      string       `json:"message"`
}

type rescheduleRequest struct {
	BookingID          string `json:"booking_id"`
	NewAppointmentTime string `json:"new_appointment_time"`
}

type cancelRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type changeResponse struct {
	Booking Booking `json:"booking"`
	Message string  `json:"message"`
}

type listRequest struct {
	VehicleID string `json:"vehicle_id"`
}

type listResponse struct {
	Bookings []Booking `json:"bookings"`
	Count    int       `json:"count"`
}

const findSchema = `{
  "type": "object",
  "properties": {
    "customer_location": {
      "type": "object",
      "required": ["lat", "lng"],
      "properties": {
        "lat": {"type": "number", "minimum": -90, "maximum": 90},
        "lng": {"type": "number", "minimum": -180, "maximum": 180}
      }
    },
    "max_distance_km": {"type": "number", "minimum": 0},
    "service_type": {"type": "string"}
  }
}`

const availabilitySchema = `{
  "type": "object",
  "required": ["service_center_id"],
  "properties": {
    "service_center_id": {"type": "string", "minLength": 1},
    "preferred_dates": {"type": "array", "items": {"type": "string"}},
    "service_duration_minutes": {"type": "integer", "minimum": 1}
  }
}`

const bookSchema = `{
  "type": "object",
  "required": ["service_center_id", "customer_name", "customer_phone", "vehicle_id", "appointment_time"],
  "properties": {
    "service_center_id": {"type": "string", "minLength": 1},
    "customer_name": {"type": "string", "minLength": 1},
    "customer_phone": {"type": "string", "minLength": 1},
    "vehicle_id": {"type": "string", "minLength": 1},
    "appointment_time": {"type": "string", "minLength": 1},
    "service_type": {"type": "string"},
    "estimated_duration": {"type": "integer", "minimum": 1},
    "notes": {"type": "string"}
  }
}`

const rescheduleSchema = `{
  "type": "object",
  "required": ["booking_id", "new_appointment_time"],
  "properties": {
    "booking_id": {"type": "string", "minLength": 1},
    "new_appointment_time": {"type": "string", "minLength": 1}
  }
}`

const cancelSchema = `{
  "type": "object",
  "required": ["booking_id"],
  "properties": {
    "booking_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string"}
  }
}`

const listSchema = `{
  "type": "object",
  "properties": {"vehicle_id": {"type": "string"}}
}`

// Agent books service appointments. Centers are loaded at Initialize.
type Agent struct {
	agent.Base
	reference   domain.ReferenceSource
	maxDistance float64
	maxSlots    int
	centers     []domain.ServiceCenter
	bookings    []*Booking
	now         agent.Clock
	logger      *slog.Logger
}

// New creates the booking agent.
func New(cfg config.BookingAgentConfig, reference domain.ReferenceSource, logger *slog.Logger) *Agent {
	maxDistance := cfg.DefaultMaxDistanceKM
	if maxDistance <= 0 {
		maxDistance = 50
	}
	maxSlots := cfg.MaxSlots
	if maxSlots <= 0 {
		maxSlots = 20
	}
	return &Agent{
		Base:        agent.NewBase(cfg.AgentConfig, "Finds service centers and books appointments"),
		reference:   reference,
		maxDistance: maxDistance,
		maxSlots:    maxSlots,
		now:         time.Now,
		logger:      logger,
	}
}

// Initialize loads the service centers.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.reference == nil {
		return fmt.Errorf("load service centers: no reference source: %w", domain.ErrInvalidInput)
	}
	centers, err := a.reference.ServiceCenters(ctx)
	if err != nil {
		return fmt.Errorf("load service centers: %w", err)
	}
	a.centers = centers
	a.logger.Info("service centers loaded", "count", len(centers))
	return nil
}

// Routes implements domain.Worker.
func (a *Agent) Routes() []domain.Route {
	return []domain.Route{
		{Type: TaskFindCenters, Schema: findSchema, Handle: agent.Handle(a.findCenters)},
		{Type: TaskAvailability, Schema: availabilitySchema, Handle: agent.Handle(a.checkAvailability)},
		{Type: TaskBook, Schema: bookSchema, Handle: agent.Handle(a.book)},
		{Type: TaskReschedule, Schema: rescheduleSchema, Handle: agent.Handle(a.reschedule)},
		{Type: TaskCancel, Schema: cancelSchema, Handle: agent.Handle(a.cancel)},
		{Type: TaskList, Schema: listSchema, Handle: agent.Handle(a.list)},
	}
}

func (a *Agent) findCenters(_ context.Context, req findRequest) (findResponse, error) {
	limit := a.maxDistance
	if req.MaxDistanceKM != nil {
		limit = *req.MaxDistanceKM
	}

	matches := []CenterMatch{}
	for _, c := range a.centers {
		d := unknownDistance
		if req.CustomerLocation != nil {
			d = Distance(*req.CustomerLocation, c.Location)
		}
		if d <= limit {
			matches = append(matches, CenterMatch{ServiceCenter: c, DistanceKM: agent.Round(d, 1)})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].DistanceKM < matches[j].DistanceKM })

	a.logger.Info("service centers found", "count", len(matches), "max_distance_km", limit)
	return findResponse{ServiceCenters: matches, Count: len(matches)}, nil
}

func (a *Agent) checkAvailability(_ context.Context, req availabilityRequest) (availabilityResponse, error) {
	center, ok := a.center(req.ServiceCenterID)
	if !ok {
		return availabilityResponse{}, domain.InvalidPayload("service center %q not found", req.ServiceCenterID)
	}
	duration := req.ServiceDurationMinutes
	if duration <= 0 {
		duration = 120
	}
	slots := a.slots(center, req.PreferredDates, duration)
	return availabilityResponse{ServiceCenter: center, AvailableSlots: slots, Count: len(slots)}, nil
}

// slots lists open two-hour slots on up to seven dates. Dates that do not
// parse are skipped.
func (a *Agent) slots(center domain.ServiceCenter, dates []string, duration int) []Slot {
	now := a.now()
	loc := now.Location()
	if len(dates) == 0 {
		start := now.AddDate(0, 0, 1)
		for i := range maxDates {
			dates = append(dates, start.AddDate(0, 0, i).Format(dateLayout))
		}
	}
	if len(dates) > maxDates {
		dates = dates[:maxDates]
	}

	slots := []Slot{}
	for _, ds := range dates {
		day, err := time.ParseInLocation(dateLayout, ds, loc)
		if err != nil {
			continue
		}
		hours, ok := center.Hours[strings.ToLower(day.Weekday().String())]
		if !ok {
			continue
		}
		open, err1 := time.Parse("15:04", hours.Open)
		closing, err2 := time.Parse("15:04", hours.Close)
		if err1 != nil || err2 != nil {
			continue
		}
		for hour := open.Hour(); hour < closing.Hour(); hour += slotStepHours {
			at := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
			if at.Before(now) {
				continue
			}
			slots = append(slots, Slot{
				SlotID:          "SLOT" + at.Format("200601021504"),
				Date:            ds,
				Time:            fmt.Sprintf("%02d:00", hour),
				DateTime:        at.Format(time.RFC3339),
				Available:       true,
				DurationMinutes: duration,
			})
			if len(slots) == a.maxSlots {
				return slots
			}
		}
	}
	return slots
}

func (a *Agent) book(_ context.Context, req bookRequest) (bookResponse, error) {
	if _, ok := a.center(req.ServiceCenterID); !ok {
		return bookResponse{}, domain.InvalidPayload("service center %q not found", req.ServiceCenterID)
	}
	if _, err := time.Parse(time.RFC3339, req.AppointmentTime); err != nil {
		return bookResponse{}, domain.InvalidPayload("appointment_time: %v", err)
	}

	serviceType := req.ServiceType
	if serviceType == "" {
		serviceType = "Predictive Maintenance"
	}
	duration := req.EstimatedDuration
	if duration <= 0 {
		duration = 120
	}

	now := agent.Timestamp(a.now())
	b := &Booking{
		BookingID:         domain.NewID("BK"),
		ServiceCenterID:   req.ServiceCenterID,
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		VehicleID:         req.VehicleID,
		AppointmentTime:   req.AppointmentTime,
		ServiceType:       serviceType,
		EstimatedDuration: duration,
		Status:            StatusConfirmed,
		CreatedAt:         now,
		Notes:             req.Notes,
	}
	a.bookings = append(a.bookings, b)

	a.logger.Info("appointment booked", "booking_id", b.BookingID, "vehicle_id", b.VehicleID, "center", b.ServiceCenterID)
	return bookResponse{
		Booking: *b,
		Confirmation: Confirmation{
			Sent:      true,
			Method:    "sms",
			Phone:     b.CustomerPhone,
			Message:   fmt.Sprintf("Your appointment is confirmed for %s. Booking ID: %s", b.AppointmentTime, b.BookingID),
			Timestamp: now,
		},
		Message: "Appointment successfully booked",
	}, nil
}

func (a *Agent) reschedule(_ context.Context, req rescheduleRequest) (changeResponse, error) {
	b, ok := a.booking(req.BookingID)
	if !ok {
		return changeResponse{}, domain.InvalidPayload("booking %q not found", req.BookingID)
	}
	if b.Status == StatusCancelled {
		return changeResponse{}, domain.InvalidPayload("booking %q is cancelled", req.BookingID)
	}
	if _, err := time.Parse(time.RFC3339, req.NewAppointmentTime); err != nil {
		return changeResponse{}, domain.InvalidPayload("new_appointment_time: %v", err)
	}

	b.RescheduledFrom = b.AppointmentTime
	b.AppointmentTime = req.NewAppointmentTime
	b.RescheduledAt = agent.Timestamp(a.now())

	a.logger.Info("appointment rescheduled", "booking_id", b.BookingID)
	return changeResponse{Booking: *b, Message: "Appointment successfully rescheduled"}, nil
}

func (a *Agent) cancel(_ context.Context, req cancelRequest) (changeResponse, error) {
	b, ok := a.booking(req.BookingID)
	if !ok {
		return changeResponse{}, domain.InvalidPayload("booking %q not found", req.BookingID)
	}
	reason := req.Reason
	if reason == "" {
		reason = "Customer request"
	}
	b.Status = StatusCancelled
	b.CancelledAt = agent.Timestamp(a.now())
	b.CancellationReason = reason

	a.logger.Info("appointment cancelled", "booking_id", b.BookingID, "reason", reason)
	return changeResponse{Booking: *b, Message: "Appointment successfully cancelled"}, nil
}

func (a *Agent) list(_ context.Context, req listRequest) (listResponse, error) {
	out := []Booking{}
	for _, b := range a.bookings {
		if req.VehicleID == "" || b.VehicleID == req.VehicleID {
			out = append(out, *b)
		}
	}
	return listResponse{Bookings: out, Count: len(out)}, nil
}

func (a *Agent) center(id string) (domain.ServiceCenter, bool) {
	for _, c := range a.centers {
		if c.ID == id {
			return c, true
		}
	}
	return domain.ServiceCenter{}, false
}

func (a *Agent) booking(id string) (*Booking, bool) {
	for _, b := range a.bookings {
		if b.BookingID == id {
			return b, true
		}
	}
	return nil, false
}

// Distance returns the great-circle distance between two points in km.
func Distance(from, to domain.GeoPoint) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(to.Lat - from.Lat)
	dLng := rad(to.Lng - from.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(from.Lat))*math.Cos(rad(to.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
