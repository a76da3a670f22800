package accident

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Header aliases, matched case-insensitively after trimming. The first
// group of names comes from the severity dataset, the second from the
// exploratory-analysis export.
var columnAliases = map[string][]string{
	FieldAccidentType: {"standard accident type", "accident_type", "accident type"},
	FieldDeaths:       {"deaths", "killed"},
	FieldInjuries:     {"injuries", "injured"},
	FieldRescueTime:   {"rescue time (hrs)", "rescue_time_hours", "rescue time"},
	FieldSeverity:     {"severity"},
	"time":            {"time", "date"},
	"train_name":      {"train_name", "train name"},
	"division":        {"railway_division", "division"},
	"env":             {"env", "environment"},
	"cause":           {"cause"},
	"state":           {"state"},
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
	"1/2/2006 15:04",
	"1/2/2006",
}

// ReadCSV parses a headered CSV into records. Empty cells become missing
// values; a non-numeric value in a numeric column is a MalformedRecordError.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv: %w", ErrInsufficientData)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := resolveColumns(header)
	if _, ok := index[FieldAccidentType]; !ok {
		return nil, &MalformedRecordError{Line: 1, Field: FieldAccidentType, Reason: "column missing from header"}
	}

	var records []Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec, err := parseRow(row, index, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func resolveColumns(header []string) map[string]int {
	index := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		for field, aliases := range columnAliases {
			if _, seen := index[field]; seen {
				continue
			}
			for _, alias := range aliases {
				if key == alias {
					index[field] = i
					break
				}
			}
		}
	}
	return index
}

func parseRow(row []string, index map[string]int, line int) (Record, error) {
	cell := func(field string) string {
		i, ok := index[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{
		AccidentType: cell(FieldAccidentType),
		TrainName:    cell("train_name"),
		Division:     cell("division"),
		Environment:  cell("env"),
		Cause:        cell("cause"),
		State:        cell("state"),
		OccurredAt:   parseTime(cell("time")),
	}

	var err error
	if rec.Deaths, err = parseCount(cell(FieldDeaths), FieldDeaths, line); err != nil {
		return Record{}, err
	}
	if rec.Injuries, err = parseCount(cell(FieldInjuries), FieldInjuries, line); err != nil {
		return Record{}, err
	}
	if rec.RescueTimeHours, err = parseReal(cell(FieldRescueTime), FieldRescueTime, line); err != nil {
		return Record{}, err
	}
	if rec.Severity, err = parseReal(cell(FieldSeverity), FieldSeverity, line); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		var me *MalformedRecordError
		if errors.As(err, &me) {
			me.Line = line
		}
		return Record{}, err
	}
	return rec, nil
}

func parseReal(raw, field string, line int) (*float64, error) {
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) {
		return nil, &MalformedRecordError{Line: line, Field: field, Value: raw, Reason: "is not a number"}
	}
	return &v, nil
}

// parseCount accepts "3" and "3.0" (pandas writes integer columns with
// missing values as floats) but rejects fractional counts.
func parseCount(raw, field string, line int) (*int, error) {
	f, err := parseReal(raw, field, line)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, &MalformedRecordError{Line: line, Field: field, Value: raw, Reason: "is not a whole number"}
	}
	if math.Abs(*f) > MaxCount {
		return nil, &MalformedRecordError{Line: line, Field: field, Value: raw, Reason: "is out of range"}
	}
	n := int(*f)
	return &n, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
