package store

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/model"
)

//go:embed stations.csv
var stationsCSV []byte

// EmbeddedStations parses the bundled station reference file. The list is
// static reference data, never derived from disruption payloads.
func EmbeddedStations() ([]model.Station, error) {
	return ParseStationsCSV(bytes.NewReader(stationsCSV))
}

// ParseStationsCSV reads a code,name,lat,lon file with a header row.
func ParseStationsCSV(r io.Reader) ([]model.Station, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "store: stations csv: read header")
	}
	if header[0] != "code" {
		return nil, eris.Errorf("store: stations csv: unexpected header %q", header[0])
	}

	var stations []model.Station
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "store: stations csv: read record")
		}
		lat, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "store: stations csv: lat for %s", rec[0])
		}
		lon, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "store: stations csv: lon for %s", rec[0])
		}
		stations = append(stations, model.Station{Code: rec[0], Name: rec[1], Lat: lat, Lon: lon})
	}
	return stations, nil
}
