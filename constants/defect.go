package constants

import (
	"strings"
)

// DefectClass is a canonical thermal-anomaly class from the fixed taxonomy.
// Class IDs are the detection model's output indices; they are stable and
// must match the label map the detector was trained with.
type DefectClass struct {
	ID   int
	Name string
}

// Severity is a triage classification derived from the defect class.
// It is computed on read for review ordering, never stored as ground truth.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Stable values (class IDs are model output indices, do not reorder).
var allDefectClasses = []DefectClass{
	{0, "Loose Joint F"},
	{1, "Loose Joint PF"},
	{2, "Point Overload F"},
	{3, "Point Overload PF"},
	{4, "Full Wire Overload PF"},
	{5, "Hotspot Review"},
	{6, "Warm Area LF"},
	{7, "Warm Area PF"},
	{8, "Cooling System Issue"},
}

var severityByClassID = map[int]Severity{
	0: SeverityCritical,
	1: SeverityHigh,
	2: SeverityCritical,
	3: SeverityHigh,
	4: SeverityMedium,
	5: SeverityMedium,
	6: SeverityMedium,
	7: SeverityLow,
	8: SeverityLow,
}

// DefectClasses returns the full taxonomy in class-ID order.
func DefectClasses() []DefectClass {
	out := make([]DefectClass, len(allDefectClasses))
	copy(out, allDefectClasses)
	return out
}

// ClassNames returns the taxonomy names in class-ID order.
func ClassNames() []string {
	result := make([]string, len(allDefectClasses))
	for i, c := range allDefectClasses {
		result[i] = c.Name
	}
	return result
}

// ClassNameForID resolves a class ID to its canonical name. Callers must use
// this rather than trusting a caller-supplied name, so the stored id/name
// pair cannot drift apart.
func ClassNameForID(id int) (string, bool) {
	for _, c := range allDefectClasses {
		if c.ID == id {
			return c.Name, true
		}
	}
	return "", false
}

// ClassIDForName resolves a canonical or loosely formatted class name to its ID.
func ClassIDForName(name string) (int, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, c := range allDefectClasses {
		if normalized == strings.ToLower(c.Name) {
			return c.ID, true
		}
	}
	return 0, false
}

// SeverityForClassID maps a class ID to its triage severity.
// Unknown classes rate as LOW so a taxonomy gap never hides a record.
func SeverityForClassID(id int) Severity {
	if s, ok := severityByClassID[id]; ok {
		return s
	}
	return SeverityLow
}
