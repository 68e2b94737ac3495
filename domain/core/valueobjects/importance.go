package valueobjects

// Importance weights how prominently a concept node is drawn relative
// to its siblings.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// ParseImportance normalizes a payload importance value. Unknown and
// empty values default to medium rather than failing the whole batch.
func ParseImportance(raw string) Importance {
	switch Importance(raw) {
	case ImportanceLow:
		return ImportanceLow
	case ImportanceHigh:
		return ImportanceHigh
	default:
		return ImportanceMedium
	}
}

// IsValid reports whether the value is one of the known levels
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	default:
		return false
	}
}
