// Package insights computes the exploratory aggregates over an accident
// dataset: when, where and on which trains accidents happen, casualties by
// region, and the leading causes.
package insights

import (
	"sort"
	"strings"

	"railway-accident-analytics/accident"
)

// Count is one bar of a distribution.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Question is a distribution over one derived column with its headline finding.
type Question struct {
	Key             string  `json:"key"`
	Question        string  `json:"question"`
	Counts          []Count `json:"counts"`
	MostCommon      string  `json:"most_common,omitempty"`
	MostCommonCount int     `json:"most_common_count"`
	Note            string  `json:"note,omitempty"`
}

// RegionCasualties sums casualties over one region.
type RegionCasualties struct {
	Region  string `json:"region"`
	Injured int    `json:"injured"`
	Killed  int    `json:"killed"`
}

// Report is the full set of aggregates.
type Report struct {
	Records            int                `json:"records"`
	Dropped            int                `json:"dropped"`
	Questions          []Question         `json:"questions"`
	CasualtiesByRegion []RegionCasualties `json:"casualties_by_region"`
	Causes             Question           `json:"causes"`
}

// TrainTypes are matched in order against the train name; the first
// substring hit wins.
var TrainTypes = []string{"Express", "Passenger", "Freight", "Mail", "others"}

var regionByDivision = map[string]string{
	"n": "North", "nc": "North", "ne": "North", "nef": "North", "nw": "North",
	"s": "South", "sc": "South", "se": "South", "sw": "South",
	"e": "East", "ec": "East", "eco": "East",
	"c": "Central",
	"w": "West",
}

const unknown = "Unknown"

type dimension struct {
	key      string
	question string
	note     string
	value    func(accident.Record) string
}

var dimensions = []dimension{
	{
		key:      "daytime",
		question: "On which time of day do more accidents happen? Does visibility play a major role?",
		note:     "Accidents during night and early morning may be linked to reduced visibility.",
		value:    func(r accident.Record) string { return Daytime(r.OccurredAt.Hour()) },
	},
	{
		key:      "season",
		question: "In which season are accidents more frequent?",
		note:     "Seasonal peaks may follow weather conditions such as monsoon rain or winter fog.",
		value:    func(r accident.Record) string { return Season(int(r.OccurredAt.Month())) },
	},
	{
		key:      "region",
		question: "Which region of the country has experienced more accidents?",
		note:     "Regional terrain and infrastructure may contribute to higher accident rates.",
		value:    func(r accident.Record) string { return Region(r.Division) },
	},
	{
		key:      "env",
		question: "What is the environment of accident spots?",
		note:     "Spot environment highlights risks such as unmanned crossings or track conditions.",
		value:    func(r accident.Record) string { return strings.TrimSpace(r.Environment) },
	},
	{
		key:      "train_type",
		question: "Which type of trains suffer more accidents?",
		note:     "Accidents concentrated on particular train types may point to operational or maintenance issues.",
		value:    func(r accident.Record) string { return TrainType(r.TrainName) },
	},
}

// Daytime buckets an hour into (0,6] Night, (6,12] Morning, (12,18]
// Afternoon and (18,24] Evening. Hour 0 falls in no bucket and returns "".
func Daytime(hour int) string {
	switch {
	case hour <= 0 || hour > 24:
		return ""
	case hour <= 6:
		return "Night"
	case hour <= 12:
		return "Morning"
	case hour <= 18:
		return "Afternoon"
	default:
		return "Evening"
	}
}

// Season maps a month (1-12) to the Indian season.
func Season(month int) string {
	switch month {
	case 12, 1, 2, 3:
		return "Winter"
	case 4, 5, 6:
		return "Summer"
	case 7, 8, 9:
		return "Monsoon"
	default:
		return "Autumn"
	}
}

// Region maps a railway division code such as "nef" to its region.
func Region(division string) string {
	if r, ok := regionByDivision[strings.ToLower(strings.TrimSpace(division))]; ok {
		return r
	}
	return unknown
}

// TrainType classifies a train by name.
func TrainType(name string) string {
	for _, t := range TrainTypes {
		if strings.Contains(name, t) {
			return t
		}
	}
	return unknown
}

// keep reports whether a record survives the unknown-category filter.
func keep(r accident.Record) bool {
	if r.OccurredAt.IsZero() {
		return false
	}
	if Region(r.Division) == unknown || TrainType(r.TrainName) == unknown {
		return false
	}
	if strings.TrimSpace(r.Environment) == unknown {
		return false
	}
	return strings.TrimSpace(r.Cause) != "unknown"
}

// Compute builds the report. Records without a timestamp or with an
// unknown region, train type, environment or cause are dropped first.
func Compute(records []accident.Record) Report {
	kept := make([]accident.Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			kept = append(kept, r)
		}
	}

	rep := Report{Records: len(kept), Dropped: len(records) - len(kept)}
	for _, d := range dimensions {
		q := tally(kept, d.value)
		q.Key, q.Question, q.Note = d.key, d.question, d.note
		rep.Questions = append(rep.Questions, q)
	}

	rep.Causes = tally(kept, func(r accident.Record) string { return strings.TrimSpace(r.Cause) })
	rep.Causes.Key = "cause"
	rep.Causes.Question = "What are the main causes of accidents?"

	byRegion := make(map[string]*RegionCasualties)
	for _, r := range kept {
		region := Region(r.Division)
		rc, ok := byRegion[region]
		if !ok {
			rc = &RegionCasualties{Region: region}
			byRegion[region] = rc
		}
		if r.Injuries != nil {
			rc.Injured += *r.Injuries
		}
		if r.Deaths != nil {
			rc.Killed += *r.Deaths
		}
	}
	rep.CasualtiesByRegion = make([]RegionCasualties, 0, len(byRegion))
	for _, rc := range byRegion {
		rep.CasualtiesByRegion = append(rep.CasualtiesByRegion, *rc)
	}
	sort.Slice(rep.CasualtiesByRegion, func(i, j int) bool {
		return rep.CasualtiesByRegion[i].Region < rep.CasualtiesByRegion[j].Region
	})
	return rep
}

// tally counts non-empty values, most frequent first, ties by label.
func tally(records []accident.Record, value func(accident.Record) string) Question {
	counts := make(map[string]int)
	for _, r := range records {
		if v := value(r); v != "" {
			counts[v]++
		}
	}
	q := Question{Counts: make([]Count, 0, len(counts))}
	for label, n := range counts {
		q.Counts = append(q.Counts, Count{Label: label, Count: n})
	}
	sort.Slice(q.Counts, func(i, j int) bool {
		if q.Counts[i].Count != q.Counts[j].Count {
			return q.Counts[i].Count > q.Counts[j].Count
		}
		return q.Counts[i].Label < q.Counts[j].Label
	})
	if len(q.Counts) > 0 {
		q.MostCommon = q.Counts[0].Label
		q.MostCommonCount = q.Counts[0].Count
	}
	return q
}
