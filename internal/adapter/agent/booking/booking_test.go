package booking

import (
	"context"
	"strings"
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

// Monday morning.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func startedRuntime(t *testing.T) *multiagent.Runtime {
	t.Helper()
	src, err := reference.Load("")
	require.NoError(t, err)

	a := New(config.BookingAgentConfig{
		AgentConfig:          config.AgentConfig{Enabled: true, ID: "agent-scheduling-001", Name: "SchedulingAgent"},
		DefaultMaxDistanceKM: 50,
		MaxSlots:             20,
	}, src, logger.Discard())
	a.now = func() time.Time { return testNow }

	rt, err := multiagent.NewRuntime(a, multiagent.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	return rt
}

func process(t *testing.T, rt *multiagent.Runtime, taskType string, p domain.Payload, dst any) {
	t.Helper()
	out, err := rt.Process(context.Background(), domain.NewTask(taskType, p))
	require.NoError(t, err)
	require.NoError(t, domain.DecodePayload(out, dst))
}

func TestDistance(t *testing.T) {
	nyc := domain.GeoPoint{Lat: 40.7128, Lng: -74.0060}
	assert.Equal(t, 0.0, Distance(nyc, nyc))

	london := domain.GeoPoint{Lat: 51.5074, Lng: -0.1278}
	assert.InDelta(t, 5570, Distance(nyc, london), 10)
}

func TestFindServiceCenters(t *testing.T) {
	rt := startedRuntime(t)

	var res findResponse
	process(t, rt, TaskFindCenters, domain.Payload{
		"customer_location": map[string]any{"lat": 40.7128, "lng": -74.0060},
		"max_distance_km":   20,
	}, &res)

	require.Equal(t, 3, res.Count)
	assert.Equal(t, "SC001", res.ServiceCenters[0].ID)
	assert.Equal(t, 0.0, res.ServiceCenters[0].DistanceKM)
	for i := 1; i < len(res.ServiceCenters); i++ {
		assert.LessOrEqual(t, res.ServiceCenters[i-1].DistanceKM, res.ServiceCenters[i].DistanceKM)
	}

	process(t, rt, TaskFindCenters, domain.Payload{
		"customer_location": map[string]any{"lat": 40.7128, "lng": -74.0060},
		"max_distance_km":   1,
	}, &res)
	assert.Equal(t, 1, res.Count)
}

func TestFindServiceCentersWithoutLocation(t *testing.T) {
	rt := startedRuntime(t)

	var res findResponse
	process(t, rt, TaskFindCenters, domain.Payload{}, &res)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.ServiceCenters)
}

func TestCheckAvailability(t *testing.T) {
	rt := startedRuntime(t)

	var res availabilityResponse
	process(t, rt, TaskAvailability, domain.Payload{
		"service_center_id": "SC001",
		"preferred_dates":   []any{"2026-03-02", "2026-03-08", "not-a-date"},
	}, &res)

	// 08:00 has passed; Sunday is closed.
	require.Equal(t, 4, res.Count)
	first := res.AvailableSlots[0]
	assert.Equal(t, "SLOT202603021000", first.SlotID)
	assert.Equal(t, "10:00", first.Time)
	assert.Equal(t, "2026-03-02T10:00:00Z", first.DateTime)
	assert.Equal(t, 120, first.DurationMinutes)
	assert.True(t, first.Available)
	assert.Equal(t, "16:00", res.AvailableSlots[3].Time)
}

func TestCheckAvailabilityDefaultsToNextWeek(t *testing.T) {
	rt := startedRuntime(t)

	var res availabilityResponse
	process(t, rt, TaskAvailability, domain.Payload{
		"service_center_id":        "SC001",
		"service_duration_minutes": 60,
	}, &res)

	assert.Equal(t, 20, res.Count)
	assert.Equal(t, "2026-03-03", res.AvailableSlots[0].Date)
	assert.Equal(t, "08:00", res.AvailableSlots[0].Time)
	assert.Equal(t, 60, res.AvailableSlots[0].DurationMinutes)
}

func TestCheckAvailabilityUnknownCenter(t *testing.T) {
	rt := startedRuntime(t)

	_, err := rt.Process(context.Background(), domain.NewTask(TaskAvailability, domain.Payload{"service_center_id": "SC999"}))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func bookPayload() domain.Payload {
	return domain.Payload{
		"service_center_id": "SC002",
		"customer_name":     "Rajesh Kumar",
		"customer_phone":    "+919876543210",
		"vehicle_id":        "VIN12345",
		"appointment_time":  "2026-03-03T10:00:00Z",
	}
}

func TestBookRescheduleCancel(t *testing.T) {
	rt := startedRuntime(t)

	var booked bookResponse
	process(t, rt, TaskBook, bookPayload(), &booked)
	b := booked.Booking
	assert.True(t, strings.HasPrefix(b.BookingID, "BK-"))
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "Predictive Maintenance", b.ServiceType)
	assert.Equal(t, 120, b.EstimatedDuration)
	assert.Equal(t, "2026-03-02T10:00:00Z", b.CreatedAt)
	assert.True(t, booked.Confirmation.Sent)
	assert.Equal(t, "sms", booked.Confirmation.Method)
	assert.Equal(t, "Your appointment is confirmed for 2026-03-03T10:00:00Z. Booking ID: "+b.BookingID, booked.Confirmation.Message)

	var changed changeResponse
	process(t, rt, TaskReschedule, domain.Payload{
		"booking_id":           b.BookingID,
		"new_appointment_time": "2026-03-04T12:00:00Z",
	}, &changed)
	assert.Equal(t, "2026-03-04T12:00:00Z", changed.Booking.AppointmentTime)
	assert.Equal(t, "2026-03-03T10:00:00Z", changed.Booking.RescheduledFrom)
	assert.NotEmpty(t, changed.Booking.RescheduledAt)

	process(t, rt, TaskCancel, domain.Payload{"booking_id": b.BookingID}, &changed)
	assert.Equal(t, StatusCancelled, changed.Booking.Status)
	assert.Equal(t, "Customer request", changed.Booking.CancellationReason)

	_, err := rt.Process(context.Background(), domain.NewTask(TaskReschedule, domain.Payload{
		"booking_id":           b.BookingID,
		"new_appointment_time": "2026-03-05T12:00:00Z",
	}))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestBookRejectsBadInput(t *testing.T) {
	rt := startedRuntime(t)

	p := bookPayload()
	p["service_center_id"] = "SC999"
	_, err := rt.Process(context.Background(), domain.NewTask(TaskBook, p))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	p = bookPayload()
	p["appointment_time"] = "tomorrow"
	_, err = rt.Process(context.Background(), domain.NewTask(TaskBook, p))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	p = bookPayload()
	delete(p, "customer_phone")
	_, err = rt.Process(context.Background(), domain.NewTask(TaskBook, p))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = rt.Process(context.Background(), domain.NewTask(TaskCancel, domain.Payload{"booking_id": "BK-missing"}))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestListBookings(t *testing.T) {
	rt := startedRuntime(t)

	var booked bookResponse
	process(t, rt, TaskBook, bookPayload(), &booked)
	p := bookPayload()
	p["vehicle_id"] = "VIN999"
	process(t, rt, TaskBook, p, &booked)

	var res listResponse
	process(t, rt, TaskList, domain.Payload{}, &res)
	assert.Equal(t, 2, res.Count)

	process(t, rt, TaskList, domain.Payload{"vehicle_id": "VIN999"}, &res)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "VIN999", res.Bookings[0].VehicleID)
}
