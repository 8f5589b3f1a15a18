package model

// Station is one row of the static station reference table. The table is
// seeded from a bundled reference file and never derived from disruption
// data.
type Station struct {
	Code string  `json:"code"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}
