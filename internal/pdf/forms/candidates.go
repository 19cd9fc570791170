package forms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// classificationMarker identifies the classification column of the crew
// time report. Template revisions spell the column header differently but
// all keep this fragment.
const classificationMarker = "CATION"

var rowPattern = regexp.MustCompile(`Row(\d+)`)

// candidatePatterns are the alternative spellings of a classification
// field, tried in order.
var candidatePatterns = []string{
	"CtASSIF CATIONRow%d",
	"CLASSIFICATIONRow%d",
	"CLASSRow%d",
	"CATIONRow%d",
}

// IsClassification reports whether name belongs to the classification
// field family.
func IsClassification(name string) bool {
	return strings.Contains(strings.ToUpper(name), classificationMarker)
}

// RowIndex extracts the row number from a "Row<n>" name suffix.
func RowIndex(name string) (int, bool) {
	m := rowPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Candidates returns the ordered alternative names for a field that could
// not be found under baseName. Only the classification family has
// alternatives; every other name yields nil. baseName itself is never
// repeated in the result.
func Candidates(baseName string, rowIndex int) []string {
	if !IsClassification(baseName) {
		return nil
	}
	if rowIndex < 1 {
		n, ok := RowIndex(baseName)
		if !ok {
			return nil
		}
		rowIndex = n
	}

	out := make([]string, 0, len(candidatePatterns))
	for _, p := range candidatePatterns {
		name := fmt.Sprintf(p, rowIndex)
		if name != baseName {
			out = append(out, name)
		}
	}
	return out
}
