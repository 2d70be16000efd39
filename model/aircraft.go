package model

// FinancingType describes how an aircraft was acquired.
type FinancingType string

const (
	FinancingCash  FinancingType = "cash"
	FinancingLease FinancingType = "lease"
	FinancingLoan  FinancingType = "loan"
)

// AircraftType is a static performance/cost table entry shared by every
// airframe of the same model.
type AircraftType struct {
	ID             string  `json:"id" yaml:"id"`
	EconomySeats   int     `json:"economy_seats" yaml:"economy_seats"`
	BusinessSeats  int     `json:"business_seats" yaml:"business_seats"`
	CruiseSpeedKts float64 `json:"cruise_speed_kts" yaml:"cruise_speed_kts"`
	CruiseAltFt    float64 `json:"cruise_altitude_ft" yaml:"cruise_altitude_ft"`
	// FuelBurnGPH is the block fuel burn in US gallons per hour.
	FuelBurnGPH  float64 `json:"fuel_burn_gph" yaml:"fuel_burn_gph"`
	CrewRequired int     `json:"crew_required" yaml:"crew_required"`
	// MaintenanceRate is the fraction of book value spent on maintenance
	// per year before age scaling.
	MaintenanceRate float64 `json:"maintenance_rate" yaml:"maintenance_rate"`
}

// Aircraft is one airframe in the fleet along with the financial attributes
// the economics engine needs.
type Aircraft struct {
	ID            string        `json:"id" yaml:"id"`
	TypeID        string        `json:"type_id" yaml:"type_id"`
	AgeYears      float64       `json:"age_years" yaml:"age_years"`
	PurchasePrice float64       `json:"purchase_price" yaml:"purchase_price"`
	Financing     FinancingType `json:"financing" yaml:"financing"`
	// MonthlyPayment is the lease or loan payment that accrues whether or
	// not the aircraft is flying.
	MonthlyPayment float64 `json:"monthly_payment" yaml:"monthly_payment"`
}

// Finances holds airline-level balances read from persistence.
type Finances struct {
	CashBalance float64 `json:"cash_balance" yaml:"cash_balance"`
}
