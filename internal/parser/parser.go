package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"fleet-trajectory-analytics/internal/models"
)

// Formats lists the supported input formats
var Formats = []string{"csv", "json", "log"}

// Parser handles parsing of position data files
type Parser struct {
	format string

	// Logf reports skipped lines. Defaults to log.Printf.
	Logf func(format string, v ...interface{})
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: strings.ToLower(format), Logf: log.Printf}
}

// ParseFile parses a position data file
func (p *Parser) ParseFile(filename string) ([]models.PositionSample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads samples from r in the parser's format
func (p *Parser) Parse(r io.Reader) ([]models.PositionSample, error) {
	switch p.format {
	case "csv":
		return p.parseCSV(r)
	case "json", "ndjson":
		return p.parseJSON(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

func (p *Parser) warn(line int, err error) {
	if p.Logf != nil {
		p.Logf("Warning: line %d: %v", line, err)
	}
}

// parseCSV parses CSV with a header row. Column order is free; optional
// channels may be absent or empty.
func (p *Parser) parseCSV(r io.Reader) ([]models.PositionSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	results := []models.PositionSample{}
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNum++
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}

		sample, err := recordToSample(record, indices)
		if err != nil {
			p.warn(lineNum, err)
			continue
		}
		results = append(results, sample)
	}

	return results, nil
}

// recordToSample converts a CSV record to a PositionSample
func recordToSample(record []string, indices map[string]int) (models.PositionSample, error) {
	var s models.PositionSample

	getValue := func(keys ...string) string {
		for _, key := range keys {
			if idx, ok := indices[key]; ok && idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
		}
		return ""
	}

	s.VehicleID = getValue("vehicle_id")
	if s.VehicleID == "" {
		return s, fmt.Errorf("missing vehicle_id")
	}

	ts, err := models.ParseTimestamp(getValue("timestamp"))
	if err != nil {
		return s, fmt.Errorf("invalid timestamp: %w", err)
	}
	s.Timestamp = ts

	if s.Latitude, err = requiredFloat(getValue("latitude", "lat")); err != nil {
		return s, fmt.Errorf("invalid latitude: %w", err)
	}
	if s.Longitude, err = requiredFloat(getValue("longitude", "lon", "lng")); err != nil {
		return s, fmt.Errorf("invalid longitude: %w", err)
	}
	if s.SpeedKph, err = requiredFloat(getValue("speed", "speed_kph")); err != nil {
		return s, fmt.Errorf("invalid speed: %w", err)
	}

	s.HeadingDegrees = optionalFloat(getValue("heading"))
	s.OdometerKm = optionalFloat(getValue("odometer_km", "odometer"))
	s.RPM = optionalFloat(getValue("engine_rpm", "rpm"))
	s.IgnitionOn = optionalBool(getValue("ignition_on", "ignition"))
	s.IsLiveTelemetry = optionalBool(getValue("is_live"))

	return s, nil
}

// parseJSON parses a JSON array, falling back to newline-delimited JSON
func (p *Parser) parseJSON(r io.Reader) ([]models.PositionSample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []models.PositionSample
		if err := json.Unmarshal(trimmed, &results); err == nil {
			if results == nil {
				results = []models.PositionSample{}
			}
			return results, nil
		}
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.PositionSample, error) {
	results := []models.PositionSample{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		// Remove trailing comma if present
		line = strings.TrimSuffix(line, ",")

		var s models.PositionSample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			p.warn(lineNum, err)
			continue
		}
		results = append(results, s)
	}

	return results, scanner.Err()
}

// parseLog parses the pipe-delimited device log format:
//
//	timestamp|vehicle_id|lat,lon|speed|heading|ignition|odometer_km|rpm
//
// The trailing optional channels may be omitted or left empty.
func (p *Parser) parseLog(r io.Reader) ([]models.PositionSample, error) {
	results := []models.PositionSample{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			p.warn(lineNum, fmt.Errorf("insufficient fields"))
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field := func(i int) string {
			if i < len(parts) {
				return parts[i]
			}
			return ""
		}

		var s models.PositionSample
		var err error

		if s.Timestamp, err = models.ParseTimestamp(parts[0]); err != nil {
			p.warn(lineNum, fmt.Errorf("invalid timestamp"))
			continue
		}
		s.VehicleID = parts[1]

		coords := strings.Split(parts[2], ",")
		if len(coords) != 2 {
			p.warn(lineNum, fmt.Errorf("invalid coordinates"))
			continue
		}
		lat, errLat := requiredFloat(strings.TrimSpace(coords[0]))
		lon, errLon := requiredFloat(strings.TrimSpace(coords[1]))
		if errLat != nil || errLon != nil {
			p.warn(lineNum, fmt.Errorf("invalid coordinates"))
			continue
		}
		s.Latitude, s.Longitude = lat, lon

		if s.SpeedKph, err = requiredFloat(parts[3]); err != nil {
			p.warn(lineNum, fmt.Errorf("invalid speed"))
			continue
		}

		s.HeadingDegrees = optionalFloat(field(4))
		s.IgnitionOn = optionalBool(field(5))
		s.OdometerKm = optionalFloat(field(6))
		s.RPM = optionalFloat(field(7))

		results = append(results, s)
	}

	return results, scanner.Err()
}

func requiredFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("value is required")
	}
	return strconv.ParseFloat(s, 64)
}

func optionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func optionalBool(s string) *bool {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return models.BoolPtr(true)
	case "0", "false", "off", "no":
		return models.BoolPtr(false)
	default:
		return nil
	}
}

// ValidateSample validates a position sample
func ValidateSample(s *models.PositionSample) []string {
	var errors []string

	if s.VehicleID == "" {
		errors = append(errors, "vehicle_id is required")
	}
	if s.Timestamp.IsZero() {
		errors = append(errors, "timestamp is required")
	}
	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		errors = append(errors, "latitude must be between -90 and 90")
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		errors = append(errors, "longitude must be between -180 and 180")
	}
	if math.IsNaN(s.SpeedKph) || s.SpeedKph < 0 {
		errors = append(errors, "speed cannot be negative")
	}
	if s.RPM != nil && *s.RPM < 0 {
		errors = append(errors, "engine_rpm cannot be negative")
	}
	if s.HeadingDegrees != nil && (*s.HeadingDegrees < 0 || *s.HeadingDegrees > 360) {
		errors = append(errors, "heading must be between 0 and 360")
	}

	return errors
}
