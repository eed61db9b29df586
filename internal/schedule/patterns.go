package schedule

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// Slot is one departure within a seasonal pattern.
type Slot struct {
	Departure string `yaml:"departure"`
	Arrival   string `yaml:"arrival"`
}

// Pattern is a recurring seasonal timetable, expanded once per year.
type Pattern struct {
	Name   string            `yaml:"name"`
	Start  string            `yaml:"start"`
	End    string            `yaml:"end"`
	Routes map[string][]Slot `yaml:"routes"`
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// DefaultPatterns returns the embedded seasonal patterns.
func DefaultPatterns() ([]Pattern, error) {
	return ParsePatterns(defaultPatternsYAML)
}

// LoadPatterns reads patterns from path, or the embedded defaults when
// path is empty.
func LoadPatterns(path string) ([]Pattern, error) {
	if path == "" {
		return DefaultPatterns()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns %s: %w", path, err)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes and validates a pattern document.
func ParsePatterns(data []byte) ([]Pattern, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("parse patterns: no patterns defined")
	}
	for _, p := range f.Patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("pattern without name")
		}
		// 2024 is a leap year, so 02-29 is accepted here and rejected per year at expansion
		if _, err := monthDay(2024, p.Start); err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
		}
		if _, err := monthDay(2024, p.End); err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
		}
		for routeID, slots := range p.Routes {
			for _, s := range slots {
				if _, _, err := utils.ParseClock(s.Departure); err != nil {
					return nil, fmt.Errorf("pattern %s route %s: %w", p.Name, routeID, err)
				}
				if _, _, err := utils.ParseClock(s.Arrival); err != nil {
					return nil, fmt.Errorf("pattern %s route %s: %w", p.Name, routeID, err)
				}
			}
		}
	}
	return f.Patterns, nil
}

func monthDay(year int, md string) (time.Time, error) {
	t, err := time.Parse("01-02", md)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month-day %q: %w", md, err)
	}
	d := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if d.Month() != t.Month() {
		return time.Time{}, fmt.Errorf("%s does not exist in %d", md, year)
	}
	return d, nil
}

// Expand turns patterns into dated timetable entries for the given years,
// inclusive. Routes unknown to table are rejected.
func Expand(patterns []Pattern, table *routes.Table, fromYear, toYear int) ([]models.TimetableEntry, error) {
	if toYear < fromYear {
		return nil, fmt.Errorf("invalid year range %d..%d", fromYear, toYear)
	}
	var entries []models.TimetableEntry
	for year := fromYear; year <= toYear; year++ {
		for _, p := range patterns {
			start, err := monthDay(year, p.Start)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
			}
			end, err := monthDay(year, p.End)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
			}
			routeIDs := make([]string, 0, len(p.Routes))
			for id := range p.Routes {
				routeIDs = append(routeIDs, id)
			}
			sort.Strings(routeIDs)
			for _, routeID := range routeIDs {
				if table != nil {
					if _, ok := table.Lookup(routeID); !ok {
						return nil, fmt.Errorf("pattern %s: unknown route %q", p.Name, routeID)
					}
				}
				for _, s := range p.Routes[routeID] {
					e := models.TimetableEntry{
						RouteID:       routeID,
						DepartureTime: s.Departure,
						ArrivalTime:   s.Arrival,
						SeasonLabel:   fmt.Sprintf("%s_%d", p.Name, year),
						SeasonStart:   start,
						SeasonEnd:     end,
						Active:        true,
					}
					if err := e.Validate(); err != nil {
						return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
					}
					entries = append(entries, e)
				}
			}
		}
	}
	return entries, nil
}
