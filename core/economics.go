package core

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/airline-simulator/model"
)

// CostTables are the static inputs of the economics engine.
type CostTables struct {
	LoadFactor             float64 `yaml:"load_factor" json:"load_factor"`
	FuelPricePerGallon     float64 `yaml:"fuel_price_per_gallon" json:"fuel_price_per_gallon"`
	CrewCostPerHour        float64 `yaml:"crew_cost_per_hour" json:"crew_cost_per_hour"`
	MaintenanceRate        float64 `yaml:"maintenance_rate" json:"maintenance_rate"`
	AirportFeePerDeparture float64 `yaml:"airport_fee_per_departure" json:"airport_fee_per_departure"`
	// GroundTimeHours is block time added to every leg for taxi and ground
	// operations when costing flight hours.
	GroundTimeHours float64 `yaml:"ground_time_hours" json:"ground_time_hours"`
	LeaseRate       float64 `yaml:"lease_rate" json:"lease_rate"`
	LoanAnnualRate  float64 `yaml:"loan_annual_rate" json:"loan_annual_rate"`
	LoanTermMonths  int     `yaml:"loan_term_months" json:"loan_term_months"`

	// AircraftTypes is keyed by AircraftType.ID.
	AircraftTypes map[string]model.AircraftType `yaml:"-" json:"-"`
}

// DefaultCostTables returns the stock economics constants.
func DefaultCostTables() CostTables {
	return CostTables{
		LoadFactor:             0.8,
		FuelPricePerGallon:     3.50,
		CrewCostPerHour:        250,
		MaintenanceRate:        0.02,
		AirportFeePerDeparture: 1500,
		GroundTimeHours:        0.5,
		LeaseRate:              0.01,
		LoanAnnualRate:         0.05,
		LoanTermMonths:         240,
		AircraftTypes:          map[string]model.AircraftType{},
	}
}

// CostBreakdown splits monthly costs by category.
type CostBreakdown struct {
	Fuel        float64 `json:"fuel"`
	Crew        float64 `json:"crew"`
	Maintenance float64 `json:"maintenance"`
	AirportFees float64 `json:"airport_fees"`
	Financing   float64 `json:"financing"`
}

// Total sums every category.
func (c CostBreakdown) Total() float64 {
	return c.Fuel + c.Crew + c.Maintenance + c.AirportFees + c.Financing
}

func (c CostBreakdown) add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		Fuel:        c.Fuel + o.Fuel,
		Crew:        c.Crew + o.Crew,
		Maintenance: c.Maintenance + o.Maintenance,
		AirportFees: c.AirportFees + o.AirportFees,
		Financing:   c.Financing + o.Financing,
	}
}

// RoutePerformance is the monthly result of a single assignment.
type RoutePerformance struct {
	AircraftID       string        `json:"aircraft_id"`
	RouteID          string        `json:"route_id"`
	DepartureAirport string        `json:"departure_airport"`
	ArrivalAirport   string        `json:"arrival_airport"`
	FlightsPerMonth  float64       `json:"flights_per_month"`
	FlightHours      float64       `json:"flight_hours"`
	Revenue          float64       `json:"revenue"`
	Costs            CostBreakdown `json:"costs"`
	TotalCost        float64       `json:"total_cost"`
	Profit           float64       `json:"profit"`
	Margin           float64       `json:"margin"`
	BreakevenLF      float64       `json:"breakeven_load_factor"`
	CASM             float64       `json:"casm"`
	RASM             float64       `json:"rasm"`
}

// finite reports whether every figure in p can be encoded as a JSON number.
func (p RoutePerformance) finite() bool {
	for _, v := range []float64{
		p.FlightsPerMonth, p.FlightHours, p.Revenue, p.TotalCost, p.Profit,
		p.Margin, p.BreakevenLF, p.CASM, p.RASM,
		p.Costs.Fuel, p.Costs.Crew, p.Costs.Maintenance, p.Costs.AirportFees, p.Costs.Financing,
	} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// SkippedAssignment records an assignment the engine could not cost.
type SkippedAssignment struct {
	AircraftID string `json:"aircraft_id"`
	Reason     string `json:"reason"`
}

// EconomicsSnapshot is the derived fleet-wide financial picture.
type EconomicsSnapshot struct {
	CashBalance       float64             `json:"cash_balance"`
	FleetValue        float64             `json:"fleet_value"`
	FleetSize         int                 `json:"fleet_size"`
	ActiveAssignments int                 `json:"active_assignments"`
	MonthlyRevenue    float64             `json:"monthly_revenue"`
	MonthlyCosts      float64             `json:"monthly_costs"`
	NetProfit         float64             `json:"net_profit"`
	ROI               float64             `json:"roi"`
	IdleCarryingCosts float64             `json:"idle_carrying_costs"`
	CostBreakdown     CostBreakdown       `json:"cost_breakdown"`
	Routes            []RoutePerformance  `json:"routes"`
	Skipped           []SkippedAssignment `json:"skipped,omitempty"`
}

// FlightsPerMonth converts a weekly frequency into monthly departures.
func FlightsPerMonth(frequencyPerWeek int) float64 {
	return float64(frequencyPerWeek) * 30 / 7
}

// MonthlyRevenue is (economy fare × economy seats + business fare × business
// seats) × flights per month × load factor.
func MonthlyRevenue(fares model.Fares, economySeats, businessSeats, frequencyPerWeek int, loadFactor float64) float64 {
	perFlight := fares.Economy*float64(economySeats) + fares.Business*float64(businessSeats)
	return perFlight * FlightsPerMonth(frequencyPerWeek) * loadFactor
}

// BookValue depreciates the purchase price by 4% per year of age.
func BookValue(purchasePrice, ageYears float64) float64 {
	if ageYears <= 0 {
		return purchasePrice
	}
	return purchasePrice * math.Pow(0.96, ageYears)
}

// LoanPayment is the fixed monthly payment of an amortising loan.
func LoanPayment(principal, annualRate float64, months int) float64 {
	if principal <= 0 || months <= 0 {
		return 0
	}
	r := annualRate / 12
	if r == 0 {
		return principal / float64(months)
	}
	f := math.Pow(1+r, float64(months))
	return principal * r * f / (f - 1)
}

// MonthlyFinancing is the payment an aircraft owes each month regardless of
// whether it flies. An explicit MonthlyPayment wins over derived terms.
func MonthlyFinancing(a model.Aircraft, tables CostTables) float64 {
	if a.MonthlyPayment > 0 {
		return a.MonthlyPayment
	}
	switch a.Financing {
	case model.FinancingLease:
		return a.PurchasePrice * tables.LeaseRate
	case model.FinancingLoan:
		return LoanPayment(a.PurchasePrice, tables.LoanAnnualRate, tables.LoanTermMonths)
	default:
		return 0
	}
}

// MonthlyMaintenance is the annual maintenance rate applied to the purchase
// price, spread monthly and scaled up 2% per year of airframe age.
func MonthlyMaintenance(a model.Aircraft, t model.AircraftType, tables CostTables) float64 {
	rate := t.MaintenanceRate
	if rate <= 0 {
		rate = tables.MaintenanceRate
	}
	return a.PurchasePrice * rate / 12 * (1 + 0.02*math.Max(a.AgeYears, 0))
}

// RouteEconomics costs a single assignment flown by aircraft a of type t.
func RouteEconomics(asg model.RouteAssignment, a model.Aircraft, t model.AircraftType, tables CostTables) (RoutePerformance, error) {
	if t.CruiseSpeedKts <= 0 {
		return RoutePerformance{}, fmt.Errorf("%w: aircraft type %q has no cruise speed", ErrValidation, t.ID)
	}
	if asg.DistanceNM <= 0 {
		return RoutePerformance{}, fmt.Errorf("%w: route %q has no distance", ErrValidation, asg.RouteID)
	}
	fpm := FlightsPerMonth(asg.FrequencyPerWeek)
	hours := fpm * (asg.DistanceNM/t.CruiseSpeedKts + tables.GroundTimeHours)

	costs := CostBreakdown{
		Fuel:        hours * t.FuelBurnGPH * tables.FuelPricePerGallon,
		Crew:        hours * tables.CrewCostPerHour * float64(t.CrewRequired),
		Maintenance: MonthlyMaintenance(a, t, tables),
		AirportFees: tables.AirportFeePerDeparture * fpm,
	}
	revenue := MonthlyRevenue(asg.Fares, t.EconomySeats, t.BusinessSeats, asg.FrequencyPerWeek, tables.LoadFactor)
	total := costs.Total()
	perf := RoutePerformance{
		AircraftID:       asg.AircraftID,
		RouteID:          asg.RouteID,
		DepartureAirport: asg.DepartureAirport,
		ArrivalAirport:   asg.ArrivalAirport,
		FlightsPerMonth:  fpm,
		FlightHours:      hours,
		Revenue:          revenue,
		Costs:            costs,
		TotalCost:        total,
		Profit:           revenue - total,
	}
	if revenue != 0 {
		perf.Margin = perf.Profit / revenue
	}
	fullLoad := MonthlyRevenue(asg.Fares, t.EconomySeats, t.BusinessSeats, asg.FrequencyPerWeek, 1)
	if fullLoad > 0 {
		perf.BreakevenLF = total / fullLoad
	}
	asm := float64(t.EconomySeats+t.BusinessSeats) * asg.DistanceNM * fpm
	if asm > 0 {
		perf.CASM = total / asm
		perf.RASM = revenue / asm
	}
	return perf, nil
}

// ComputeEconomics derives the fleet snapshot. It reads only its arguments,
// so identical inputs always produce identical output.
func ComputeEconomics(assignments []model.RouteAssignment, fleet []model.Aircraft, tables CostTables, fin model.Finances) EconomicsSnapshot {
	snap := EconomicsSnapshot{
		CashBalance: fin.CashBalance,
		FleetSize:   len(fleet),
		Routes:      []RoutePerformance{},
	}

	byID := make(map[string]model.Aircraft, len(fleet))
	for _, a := range fleet {
		byID[a.ID] = a
		snap.FleetValue += BookValue(a.PurchasePrice, a.AgeYears)
	}

	active := make([]model.RouteAssignment, 0, len(assignments))
	for _, asg := range assignments {
		if asg.Active {
			active = append(active, asg)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].AircraftID != active[j].AircraftID {
			return active[i].AircraftID < active[j].AircraftID
		}
		return active[i].RouteID < active[j].RouteID
	})

	flying := make(map[string]bool, len(active))
	for _, asg := range active {
		a, ok := byID[asg.AircraftID]
		if !ok {
			snap.Skipped = append(snap.Skipped, SkippedAssignment{AircraftID: asg.AircraftID, Reason: "unknown aircraft"})
			continue
		}
		t, ok := tables.AircraftTypes[a.TypeID]
		if !ok {
			snap.Skipped = append(snap.Skipped, SkippedAssignment{AircraftID: asg.AircraftID, Reason: fmt.Sprintf("unknown aircraft type %q", a.TypeID)})
			continue
		}
		perf, err := RouteEconomics(asg, a, t, tables)
		if err != nil {
			snap.Skipped = append(snap.Skipped, SkippedAssignment{AircraftID: asg.AircraftID, Reason: err.Error()})
			continue
		}
		if !perf.finite() {
			snap.Skipped = append(snap.Skipped, SkippedAssignment{AircraftID: asg.AircraftID, Reason: "route figures out of range"})
			continue
		}
		flying[a.ID] = true
		snap.Routes = append(snap.Routes, perf)
		snap.MonthlyRevenue += perf.Revenue
		snap.CostBreakdown = snap.CostBreakdown.add(perf.Costs)
	}
	snap.ActiveAssignments = len(snap.Routes)

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pay := MonthlyFinancing(byID[id], tables)
		snap.CostBreakdown.Financing += pay
		if !flying[id] {
			snap.IdleCarryingCosts += pay
		}
	}

	snap.MonthlyCosts = snap.CostBreakdown.Total()
	snap.NetProfit = snap.MonthlyRevenue - snap.MonthlyCosts
	if snap.FleetValue > 0 {
		snap.ROI = snap.NetProfit * 12 / snap.FleetValue
	}
	return snap
}
