// Package ctr maps crew time report data onto the field names of the CTR
// form and builds export file names.
package ctr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
)

// MaxRows is the number of crew member rows on one CTR page.
const MaxRows = 20

// MaxDays is the number of date columns on one CTR page.
const MaxDays = 6

// Day is one worked shift.
type Day struct {
	Date string `json:"date"`
	On   string `json:"on"`
	Off  string `json:"off"`
}

// Row is one crew member line of the report.
type Row struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
	Days           []Day  `json:"days,omitempty"`
}

// CrewInfo is the report header.
type CrewInfo struct {
	CrewName   string `json:"crewName,omitempty"`
	CrewNumber string `json:"crewNumber,omitempty"`
	FireName   string `json:"fireName,omitempty"`
	FireNumber string `json:"fireNumber,omitempty"`
}

var (
	dateRangePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} to \d{4}-\d{2}-\d{2}$`)
	crewNumberPattern = regexp.MustCompile(`^[A-Z0-9-]+$`)
	fireNumberPattern = regexp.MustCompile(`^[A-Z0-9\s-]+$`)
)

// Validate checks the header formats used by pre-filled crew links.
// dateRange may be empty.
func (c CrewInfo) Validate(dateRange string) []string {
	var problems []string
	if dateRange != "" && !dateRangePattern.MatchString(dateRange) {
		problems = append(problems, "Date format should be YYYY-MM-DD to YYYY-MM-DD")
	}
	if c.CrewNumber != "" && !crewNumberPattern.MatchString(c.CrewNumber) {
		problems = append(problems, "Crew number should contain only letters, numbers, and hyphens")
	}
	if c.FireNumber != "" && !fireNumberPattern.MatchString(c.FireNumber) {
		problems = append(problems, "Fire number should contain only letters, numbers, spaces, and hyphens")
	}
	return problems
}

// ParseCrewMembers decodes a JSON array of {name, classification}
// objects into rows without shifts.
func ParseCrewMembers(s string) ([]Row, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, fmt.Errorf("invalid crew data: %w", err)
	}
	return rows, nil
}

// Classifications returns the classification of each row, index n-1 for
// row n.
func Classifications(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Classification
	}
	return out
}

// FirstDate returns the date of the first shift of the first row.
func FirstDate(rows []Row) string {
	if len(rows) == 0 || len(rows[0].Days) == 0 {
		return ""
	}
	return rows[0].Days[0].Date
}

// MapToFields turns rows and header data into form assignments. Rows past
// MaxRows and days past MaxDays do not fit the form and are dropped; empty
// values are skipped.
func MapToFields(rows []Row, crew CrewInfo) []forms.Assignment {
	var out []forms.Assignment
	add := func(name, value string, row int) {
		if value == "" {
			return
		}
		out = append(out, forms.Assignment{FieldName: name, Value: value, RowIndex: row})
	}

	add("CREW NAME", crew.CrewName, 0)
	add("CREW NUMBER", crew.CrewNumber, 0)
	add("FIRE NAME", crew.FireName, 0)
	add("FIRE NUMBER", crew.FireNumber, 0)

	if len(rows) > MaxRows {
		rows = rows[:MaxRows]
	}

	// Date column headers come from the first row that has shifts.
	for _, r := range rows {
		if len(r.Days) == 0 {
			continue
		}
		for d, day := range r.Days {
			if d >= MaxDays {
				break
			}
			add(fmt.Sprintf("DATE%d", d+1), day.Date, 0)
		}
		break
	}

	for i, r := range rows {
		n := i + 1
		add(fmt.Sprintf("NameRow%d", n), r.Name, n)
		add(fmt.Sprintf("ClassificationRow%d", n), r.Classification, n)
		for d, day := range r.Days {
			if d >= MaxDays {
				break
			}
			add(fmt.Sprintf("ON%dRow%d", d+1, n), day.On, n)
			add(fmt.Sprintf("OFF%dRow%d", d+1, n), day.Off, n)
		}
	}
	return out
}
