package tracker

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/OpenTransitTools/traintracker/business/stationlink"
)

// loadOverrides reads a json object of foreign station id to static stop id. An empty fileName loads nothing
func loadOverrides(fileName string) (map[string]string, error) {
	overrides := make(map[string]string)
	if len(fileName) == 0 {
		return overrides, nil
	}
	if err := readJSON(fileName, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

// loadLandmarks reads a json array of named points used to refine station coordinates
func loadLandmarks(fileName string) ([]stationlink.Landmark, error) {
	if len(fileName) == 0 {
		return nil, nil
	}
	var landmarks []stationlink.Landmark
	if err := readJSON(fileName, &landmarks); err != nil {
		return nil, err
	}
	return landmarks, nil
}

// loadStationFile reads a json array of foreign stations, used when the live feed has no station endpoint
func loadStationFile(fileName string) ([]stationlink.ForeignStation, error) {
	var stations []stationlink.ForeignStation
	if err := readJSON(fileName, &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

func readJSON(fileName string, target interface{}) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", fileName, err)
	}
	if err = json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unable to parse %s: %w", fileName, err)
	}
	return nil
}
