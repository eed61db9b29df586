// Package routes holds the static route to port table used to locate
// weather samples for a sailing.
package routes

import (
	"sort"
	"time"
)

// Location is a port that weather samples are keyed by.
type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Route is a directed ferry route between two ports.
type Route struct {
	ID              string        `json:"id"`
	Departure       Location      `json:"departure"`
	Arrival         Location      `json:"arrival"`
	TypicalDuration time.Duration `json:"typical_duration"`
}

// Table resolves route identifiers.
type Table struct {
	routes map[string]Route
}

var (
	Wakkanai   = Location{ID: "wakkanai", Name: "Wakkanai", Latitude: 45.4094, Longitude: 141.6739}
	Oshidomari = Location{ID: "oshidomari", Name: "Oshidomari", Latitude: 45.2398, Longitude: 141.2042}
	Kutsugata  = Location{ID: "kutsugata", Name: "Kutsugata", Latitude: 45.2480, Longitude: 141.2198}
	Kafuka     = Location{ID: "kafuka", Name: "Kafuka", Latitude: 45.3456, Longitude: 141.0311}
)

// Default returns the Wakkanai / Rishiri / Rebun network.
func Default() *Table {
	return NewTable(
		Route{ID: "wakkanai_oshidomari", Departure: Wakkanai, Arrival: Oshidomari, TypicalDuration: 100 * time.Minute},
		Route{ID: "oshidomari_wakkanai", Departure: Oshidomari, Arrival: Wakkanai, TypicalDuration: 100 * time.Minute},
		Route{ID: "wakkanai_kutsugata", Departure: Wakkanai, Arrival: Kutsugata, TypicalDuration: 100 * time.Minute},
		Route{ID: "kutsugata_wakkanai", Departure: Kutsugata, Arrival: Wakkanai, TypicalDuration: 100 * time.Minute},
		Route{ID: "wakkanai_kafuka", Departure: Wakkanai, Arrival: Kafuka, TypicalDuration: 55 * time.Minute},
		Route{ID: "kafuka_wakkanai", Departure: Kafuka, Arrival: Wakkanai, TypicalDuration: 55 * time.Minute},
		Route{ID: "oshidomari_kafuka", Departure: Oshidomari, Arrival: Kafuka, TypicalDuration: 45 * time.Minute},
		Route{ID: "kafuka_oshidomari", Departure: Kafuka, Arrival: Oshidomari, TypicalDuration: 45 * time.Minute},
	)
}

// NewTable builds a table from routes; later duplicates replace earlier ones.
func NewTable(rs ...Route) *Table {
	t := &Table{routes: make(map[string]Route, len(rs))}
	for _, r := range rs {
		t.routes[r.ID] = r
	}
	return t
}

// Lookup returns the route with the given id.
func (t *Table) Lookup(id string) (Route, bool) {
	r, ok := t.routes[id]
	return r, ok
}

// All returns every route ordered by id.
func (t *Table) All() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns every route id in order.
func (t *Table) IDs() []string {
	all := t.All()
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	return ids
}

// Locations returns the distinct ports served by the table.
func (t *Table) Locations() []Location {
	seen := make(map[string]Location)
	for _, r := range t.routes {
		seen[r.Departure.ID] = r.Departure
		seen[r.Arrival.ID] = r.Arrival
	}
	out := make([]Location, 0, len(seen))
	for _, l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
