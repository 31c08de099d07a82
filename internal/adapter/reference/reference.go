// Package reference serves static service center and DTC reference data.
package reference

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetcare/internal/domain"
)

//go:embed defaults.yaml
var defaultData []byte

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

type document struct {
	ServiceCenters []domain.ServiceCenter     `yaml:"service_centers"`
	DTCCodes       map[string]domain.DTCInfo `yaml:"dtc_codes"`
}

// Source implements domain.ReferenceSource over a parsed YAML document.
// Data is read once and copied out on every call.
type Source struct {
	centers []domain.ServiceCenter
	codes   map[string]domain.DTCInfo
}

var _ domain.ReferenceSource = (*Source)(nil)

// Load reads reference data from path, or the built-in set when path is empty.
func Load(path string) (*Source, error) {
	data := defaultData
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reference: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse builds a Source from a YAML document.
func Parse(data []byte) (*Source, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("reference: parse: %w: %w", domain.ErrInvalidInput, err)
	}
	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("reference: %w: %w", domain.ErrInvalidInput, err)
	}

	codes := make(map[string]domain.DTCInfo, len(doc.DTCCodes))
	for code, info := range doc.DTCCodes {
		code = strings.ToUpper(code)
		info.Code = code
		codes[code] = info
	}
	return &Source{centers: doc.ServiceCenters, codes: codes}, nil
}

func validate(doc *document) error {
	seen := make(map[string]bool, len(doc.ServiceCenters))
	for i, c := range doc.ServiceCenters {
		if c.ID == "" {
			return fmt.Errorf("service_centers[%d]: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("service center %s: duplicate id", c.ID)
		}
		seen[c.ID] = true
		for day, h := range c.Hours {
			if !weekdays[day] {
				return fmt.Errorf("service center %s: unknown weekday %q", c.ID, day)
			}
			open, err := time.Parse("15:04", h.Open)
			if err != nil {
				return fmt.Errorf("service center %s %s: open: %w", c.ID, day, err)
			}
			closing, err := time.Parse("15:04", h.Close)
			if err != nil {
				return fmt.Errorf("service center %s %s: close: %w", c.ID, day, err)
			}
			if !closing.After(open) {
				return fmt.Errorf("service center %s %s: closes before it opens", c.ID, day)
			}
		}
	}
	return nil
}

// ServiceCenters implements domain.ReferenceSource.
func (s *Source) ServiceCenters(ctx context.Context) ([]domain.ServiceCenter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.ServiceCenter, len(s.centers))
	for i, c := range s.centers {
		c.Services = slices.Clone(c.Services)
		c.Hours = maps.Clone(c.Hours)
		out[i] = c
	}
	return out, nil
}

// DTCCodes implements domain.ReferenceSource.
func (s *Source) DTCCodes(ctx context.Context) (map[string]domain.DTCInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return maps.Clone(s.codes), nil
}
