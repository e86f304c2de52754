package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// gtfsFileParser holds information about a csv file. Methods to read columns for records. Errors while extracting
// data types are stored in errors which are reported with the line number the error happened on.
type gtfsFileParser struct {
	Filename       string
	line           int
	csvReader      *csv.Reader
	headers        []string
	currentRecords []string
	errors         []error
}

// makeGTFSFileParser creates new gtfsFileParser from io.Reader
func makeGTFSFileParser(r io.Reader, filename string) (*gtfsFileParser, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	headers, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to load header in %s: %w", filename, err)
	}
	removeBOMIfPresent(headers)
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	return &gtfsFileParser{
		Filename:       filename,
		line:           1,
		csvReader:      csvReader,
		headers:        headers,
		currentRecords: headers,
	}, nil
}

func removeBOMIfPresent(headers []string) {
	if len(headers) < 1 {
		return
	}
	headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
}

// getString retrieves string
// returns empty string if missing
func (p *gtfsFileParser) getString(name string, optional bool) string {
	result, err := findValue(name, p.currentRecords, p.headers, optional)
	if err != nil {
		p.errors = append(p.errors, err)
	}
	if result == nil {
		return ""
	}
	return *result
}

// getFloat64Pointer retrieves float64 pointer
// returns nil if missing.
func (p *gtfsFileParser) getFloat64Pointer(name string, optional bool) *float64 {
	value, err := findValue(name, p.currentRecords, p.headers, optional)
	if err != nil {
		p.errors = append(p.errors, err)
		return nil
	}
	if value == nil || len(strings.TrimSpace(*value)) == 0 {
		return nil
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
	if err != nil {
		p.errors = append(p.errors, csvError(name, err))
		return nil
	}
	return &result
}

// getSequence retrieves an unsigned stop sequence
func (p *gtfsFileParser) getSequence(name string) uint32 {
	value, err := findValue(name, p.currentRecords, p.headers, false)
	if err != nil {
		p.errors = append(p.errors, err)
		return 0
	}
	result, err := strconv.ParseUint(strings.TrimSpace(*value), 10, 32)
	if err != nil {
		p.errors = append(p.errors, csvError(name, err))
		return 0
	}
	return uint32(result)
}

// getGTFSTimePointer retrieves seconds since the start of the service day
// returns nil if missing or blank
func (p *gtfsFileParser) getGTFSTimePointer(name string) *int {
	value, err := findValue(name, p.currentRecords, p.headers, true)
	if err != nil {
		p.errors = append(p.errors, err)
		return nil
	}
	if value == nil {
		return nil
	}
	result, err := ParseScheduleTime(*value)
	if err != nil {
		p.errors = append(p.errors, csvError(name, err))
		return nil
	}
	return result
}

// getError retrieve errors encountered on the current line
func (p *gtfsFileParser) getError() error {
	if len(p.errors) > 0 {
		return fmt.Errorf("in file %v, line %v: %v", p.Filename, p.line, p.errors)
	}
	return nil
}

// nextLine moves csvReader one line forward
func (p *gtfsFileParser) nextLine() error {
	var err error
	p.currentRecords, err = p.csvReader.Read()
	p.line += 1
	return err
}

// indexOf finds the index of elements that matches name. returns -1 if not found
func indexOf(name string, elements []string) int {
	for i, value := range elements {
		if name == value {
			return i
		}
	}
	return -1
}

// findValue retrieves string value from csv records
// returns nil if record isn't present and optional is true
func findValue(name string, records []string, headers []string, optional bool) (*string, error) {
	index := indexOf(name, headers)
	if index < 0 {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to find header: %s", name)
	}
	if len(records) <= index {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("records are too short to find header at %v named %s", index, name)
	}
	value := records[index]
	if len(value) == 0 && !optional {
		return nil, fmt.Errorf("missing required value in column %v", name)
	}
	return &value, nil
}

// csvError convenience method for formatting a column error
func csvError(name string, err error) error {
	return fmt.Errorf("unable to parse column %s, error: %v", name, err)
}

// readGTFSRows calls addRow for every row of fileName in fsys. A missing optional file reads nothing
func readGTFSRows(fsys fs.FS, fileName string, optional bool, addRow func(parser *gtfsFileParser) error) error {
	f, err := fsys.Open(fileName)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", fileName, err)
	}
	defer func() {
		_ = f.Close()
	}()

	parser, err := makeGTFSFileParser(f, fileName)
	if err != nil {
		return err
	}
	for {
		err = parser.nextLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s line %d: %w", fileName, parser.line, err)
		}
		parser.errors = nil
		if err = addRow(parser); err != nil {
			return err
		}
	}
}

// LoadScheduleFeed reads stops.txt, trips.txt and stop_times.txt from a gtfs zip file or a directory holding the
// unzipped files. trips.txt is optional
func LoadScheduleFeed(path string) (*ScheduleData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read gtfs feed %s: %w", path, err)
	}
	if info.IsDir() {
		return loadScheduleFS(os.DirFS(path), path)
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open gtfs zip %s: %w", path, err)
	}
	defer func() {
		_ = r.Close()
	}()
	return loadScheduleFS(r, path)
}

func loadScheduleFS(fsys fs.FS, source string) (*ScheduleData, error) {
	result := ScheduleData{
		DataSet: &DataSet{URL: source},
	}

	err := readGTFSRows(fsys, "stops.txt", false, func(parser *gtfsFileParser) error {
		stop := Stop{
			StopId:   parser.getString("stop_id", false),
			StopName: parser.getString("stop_name", true),
			StopLat:  parser.getFloat64Pointer("stop_lat", true),
			StopLon:  parser.getFloat64Pointer("stop_lon", true),
		}
		if err := parser.getError(); err != nil {
			return err
		}
		result.Stops = append(result.Stops, &stop)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readGTFSRows(fsys, "trips.txt", true, func(parser *gtfsFileParser) error {
		trip := Trip{
			TripId:    parser.getString("trip_id", false),
			RouteId:   parser.getString("route_id", true),
			ServiceId: parser.getString("service_id", true),
		}
		if headsign := parser.getString("trip_headsign", true); len(headsign) > 0 {
			trip.TripHeadsign = &headsign
		}
		if err := parser.getError(); err != nil {
			return err
		}
		result.Trips = append(result.Trips, &trip)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var stopTimes []*StopTime
	err = readGTFSRows(fsys, "stop_times.txt", false, func(parser *gtfsFileParser) error {
		stopTime := StopTime{
			TripId:        parser.getString("trip_id", false),
			StopId:        parser.getString("stop_id", false),
			StopSequence:  parser.getSequence("stop_sequence"),
			ArrivalTime:   parser.getGTFSTimePointer("arrival_time"),
			DepartureTime: parser.getGTFSTimePointer("departure_time"),
		}
		if err := parser.getError(); err != nil {
			return err
		}
		stopTimes = append(stopTimes, &stopTime)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.StopTimes = groupStopTimes(stopTimes)
	return &result, nil
}
