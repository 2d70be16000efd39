package kb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/airline-simulator/model"
)

var (
	// ErrAirportExists indicates an airport code is already registered.
	ErrAirportExists = errors.New("airport already exists")
	// ErrAirportNotFound indicates an airport code is unknown.
	ErrAirportNotFound = errors.New("airport not found")
	// ErrRouteNotFound indicates a route id is unknown.
	ErrRouteNotFound = errors.New("route not found")
	// ErrAircraftNotFound indicates an aircraft id is unknown.
	ErrAircraftNotFound = errors.New("aircraft not found")
	// ErrAircraftTypeNotFound indicates an aircraft type id is unknown.
	ErrAircraftTypeNotFound = errors.New("aircraft type not found")
)

// KnowledgeBase is an in-memory, thread-safe store of the reference data the
// simulator reads: airports, routes, aircraft types and airframes.
type KnowledgeBase struct {
	mu sync.RWMutex

	airports map[string]model.Airport
	routes   map[string]model.Route
	types    map[string]model.AircraftType
	aircraft map[string]model.Aircraft
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		airports: make(map[string]model.Airport),
		routes:   make(map[string]model.Route),
		types:    make(map[string]model.AircraftType),
		aircraft: make(map[string]model.Aircraft),
	}
}

func normCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AddAirport registers an airport. Airports are immutable once added.
func (kb *KnowledgeBase) AddAirport(a model.Airport) error {
	code := normCode(a.Code)
	if code == "" {
		return fmt.Errorf("airport code is empty")
	}
	if a.Latitude < -90 || a.Latitude > 90 || a.Longitude < -180 || a.Longitude > 180 {
		return fmt.Errorf("airport %q has malformed coordinates (%v, %v)", code, a.Latitude, a.Longitude)
	}
	a.Code = code

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.airports[code]; exists {
		return fmt.Errorf("%w: %q", ErrAirportExists, code)
	}
	kb.airports[code] = a
	return nil
}

// Airport looks an airport up by code.
func (kb *KnowledgeBase) Airport(code string) (model.Airport, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	a, ok := kb.airports[normCode(code)]
	if !ok {
		return model.Airport{}, fmt.Errorf("%w: %q", ErrAirportNotFound, code)
	}
	return a, nil
}

// ListAirports returns all airports ordered by code.
func (kb *KnowledgeBase) ListAirports() []model.Airport {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	res := make([]model.Airport, 0, len(kb.airports))
	for _, a := range kb.airports {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code < res[j].Code })
	return res
}

// PutRoute inserts or replaces a route.
func (kb *KnowledgeBase) PutRoute(r model.Route) {
	r.DepartureAirport = normCode(r.DepartureAirport)
	r.ArrivalAirport = normCode(r.ArrivalAirport)
	kb.mu.Lock()
	kb.routes[r.ID] = r
	kb.mu.Unlock()
}

// Route looks a route up by id.
func (kb *KnowledgeBase) Route(id string) (model.Route, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	r, ok := kb.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("%w: %q", ErrRouteNotFound, id)
	}
	return r, nil
}

// PutAircraftType inserts or replaces a cost/performance table entry.
func (kb *KnowledgeBase) PutAircraftType(t model.AircraftType) {
	kb.mu.Lock()
	kb.types[t.ID] = t
	kb.mu.Unlock()
}

// AircraftType looks a type up by id.
func (kb *KnowledgeBase) AircraftType(id string) (model.AircraftType, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.types[id]
	if !ok {
		return model.AircraftType{}, fmt.Errorf("%w: %q", ErrAircraftTypeNotFound, id)
	}
	return t, nil
}

// AircraftTypes returns a copy of the type table keyed by id.
func (kb *KnowledgeBase) AircraftTypes() map[string]model.AircraftType {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	res := make(map[string]model.AircraftType, len(kb.types))
	for id, t := range kb.types {
		res[id] = t
	}
	return res
}

// PutAircraft inserts or replaces an airframe record.
func (kb *KnowledgeBase) PutAircraft(a model.Aircraft) {
	kb.mu.Lock()
	kb.aircraft[a.ID] = a
	kb.mu.Unlock()
}

// Aircraft looks an airframe up by id.
func (kb *KnowledgeBase) Aircraft(id string) (model.Aircraft, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	a, ok := kb.aircraft[id]
	if !ok {
		return model.Aircraft{}, fmt.Errorf("%w: %q", ErrAircraftNotFound, id)
	}
	return a, nil
}

// ListAircraft returns all airframes ordered by id.
func (kb *KnowledgeBase) ListAircraft() []model.Aircraft {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	res := make([]model.Aircraft, 0, len(kb.aircraft))
	for _, a := range kb.aircraft {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// LoadAirportsCSV reads an OurAirports-style CSV (ident, iata_code, name,
// latitude_deg, longitude_deg, type). Closed airports, heliports and
// seaplane bases are skipped. IATA codes are preferred over idents when
// present. It returns the number of airports added.
func (kb *KnowledgeBase) LoadAirportsCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	idx := func(name string) int {
		for i, h := range headers {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}
	identIdx := idx("ident")
	iataIdx := idx("iata_code")
	nameIdx := idx("name")
	latIdx := idx("latitude_deg")
	lonIdx := idx("longitude_deg")
	typeIdx := idx("type")
	if identIdx < 0 || latIdx < 0 || lonIdx < 0 {
		return 0, fmt.Errorf("csv is missing ident/latitude_deg/longitude_deg columns")
	}

	field := func(rec []string, i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	added := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return added, err
		}
		switch field(rec, typeIdx) {
		case "closed", "heliport", "seaplane_base":
			continue
		}
		lat, err := strconv.ParseFloat(field(rec, latIdx), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(field(rec, lonIdx), 64)
		if err != nil {
			continue
		}
		code := field(rec, iataIdx)
		if strings.TrimSpace(code) == "" {
			code = field(rec, identIdx)
		}
		err = kb.AddAirport(model.Airport{
			Code:      code,
			Name:      field(rec, nameIdx),
			Latitude:  lat,
			Longitude: lon,
		})
		if err == nil {
			added++
		}
	}
	return added, nil
}
