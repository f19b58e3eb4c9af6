// Package units provides shared constants and conversion for glucose units
package units

// Unit constants
const (
	MGDL = "mgdl"
	MMOL = "mmol"
)

// mgdlToMmol is the molar conversion factor for glucose (180.156 g/mol).
const mgdlToMmol = 0.0555134

// ValidUnits contains all valid unit values
var ValidUnits = []string{MGDL, MMOL}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mgdl, mmol"
}

// Convert converts a glucose concentration from mg/dL to the target units.
// The database stores concentrations in mg/dL.
func Convert(valueMGDL float64, targetUnits string) float64 {
	switch targetUnits {
	case MMOL:
		return valueMGDL * mgdlToMmol
	case MGDL:
		return valueMGDL // no conversion needed
	default:
		return valueMGDL // default to mg/dL if unknown unit
	}
}
