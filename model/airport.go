package model

// Airport is an immutable reference record looked up by its code.
type Airport struct {
	Code      string  `json:"code" yaml:"code"`
	Name      string  `json:"name,omitempty" yaml:"name"`
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// Route is a catalog entry connecting two airports. Assignments bind an
// aircraft to a Route.
type Route struct {
	ID               string  `json:"id" yaml:"id"`
	DepartureAirport string  `json:"departure_airport" yaml:"departure_airport"`
	ArrivalAirport   string  `json:"arrival_airport" yaml:"arrival_airport"`
	DistanceNM       float64 `json:"distance_nm" yaml:"distance_nm"`
}
