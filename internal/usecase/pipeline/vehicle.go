package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fleetcare/internal/domain"
)

// Vehicle is the input to one pipeline run.
type Vehicle struct {
	VehicleID  string             `yaml:"vehicle_id"`
	Make       string             `yaml:"make"`
	Model      string             `yaml:"model"`
	BatchID    string             `yaml:"batch_id"`
	OwnerName  string             `yaml:"owner_name"`
	OwnerPhone string             `yaml:"owner_phone"`
	Location   domain.GeoPoint    `yaml:"location"`
	Telemetry  map[string]float64 `yaml:"telemetry"`
	DTCCodes   []string           `yaml:"dtc_codes"`

	// CustomerResponse is what the owner says when offered an appointment.
	CustomerResponse string `yaml:"customer_response"`

	Feedback Feedback `yaml:"feedback"`

	// FleetFailures are earlier failures of the same component elsewhere in
	// the fleet. The vehicle itself is always added.
	FleetFailures []FleetFailure `yaml:"fleet_failures"`
}

// Feedback is the owner's post-service survey.
type Feedback struct {
	Rating         float64 `yaml:"rating"`
	Comments       string  `yaml:"comments"`
	WouldRecommend *bool   `yaml:"would_recommend"`
}

// FleetFailure is one failed vehicle with its production batch.
type FleetFailure struct {
	VehicleID string `yaml:"vehicle_id" json:"vehicle_id"`
	BatchID   string `yaml:"batch_id"   json:"batch_id,omitempty"`
}

// LoadVehicle reads a vehicle scenario from a YAML file.
func LoadVehicle(path string) (*Vehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vehicle %s: %w", path, err)
	}
	var v Vehicle
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vehicle %s: %w", path, domain.WrapOp("yaml", err))
	}
	if v.VehicleID == "" {
		return nil, fmt.Errorf("vehicle %s: vehicle_id is required: %w", path, domain.ErrInvalidInput)
	}
	return &v, nil
}

// DemoVehicle returns a vehicle with an overheating cooling system and low
// oil pressure whose owner accepts the offered appointment.
func DemoVehicle() *Vehicle {
	return &Vehicle{
		VehicleID:  "VIN12345",
		Make:       "Mahindra",
		Model:      "XUV700",
		BatchID:    "BATCH2024Q1",
		OwnerName:  "Rajesh Kumar",
		OwnerPhone: "+919876543210",
		Location:   domain.GeoPoint{Lat: 40.7128, Lng: -74.0060},
		Telemetry: map[string]float64{
			"engine_temperature":  105,
			"battery_voltage":     12.4,
			"oil_pressure":        45,
			"coolant_temperature": 95,
			"rpm":                 3500,
			"speed":               80,
		},
		CustomerResponse: "Yes, I'd like to schedule an appointment",
		Feedback: Feedback{
			Rating:   5,
			Comments: "Excellent service! The team was very professional and explained everything clearly. My car is running perfectly now!",
		},
		FleetFailures: []FleetFailure{
			{VehicleID: "VIN001", BatchID: "BATCH2024Q1"},
			{VehicleID: "VIN002", BatchID: "BATCH2024Q1"},
			{VehicleID: "VIN003", BatchID: "BATCH2024Q1"},
		},
	}
}
