package constants

// Provenance records how an annotation came to be and which kind of human
// action last touched it.
type Provenance string

// Stable values (store these exact strings in DB).
const (
	ProvenanceAutoDetected  Provenance = "AUTO_DETECTED"  // produced by the detection pipeline
	ProvenanceUserAdded     Provenance = "USER_ADDED"     // drawn by a reviewer from scratch
	ProvenanceUserEdited    Provenance = "USER_EDITED"    // machine or human box altered by a reviewer
	ProvenanceUserConfirmed Provenance = "USER_CONFIRMED" // machine box accepted unchanged
)

// IsHuman reports whether the provenance tag belongs to the human tier.
// Human-tier confidence values are operator-assigned, not model-calibrated.
func (p Provenance) IsHuman() bool {
	switch p {
	case ProvenanceUserAdded, ProvenanceUserEdited, ProvenanceUserConfirmed:
		return true
	}
	return false
}

// Valid reports whether p is one of the known tags.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceAutoDetected, ProvenanceUserAdded, ProvenanceUserEdited, ProvenanceUserConfirmed:
		return true
	}
	return false
}

// ImageRole is the capture role of a stored thermal image.
type ImageRole string

const (
	RoleBaseline    ImageRole = "BASELINE"    // reference capture of a healthy unit
	RoleMaintenance ImageRole = "MAINTENANCE" // inspection capture to be analyzed
	RoleAnnotated   ImageRole = "ANNOTATED"   // derived overlay sharing provenance with its source
)

func (r ImageRole) Valid() bool {
	switch r {
	case RoleBaseline, RoleMaintenance, RoleAnnotated:
		return true
	}
	return false
}

// EnvCondition tags the weather at capture time; thermal readings shift with it.
type EnvCondition string

const (
	CondSunny  EnvCondition = "SUNNY"
	CondCloudy EnvCondition = "CLOUDY"
	CondRainy  EnvCondition = "RAINY"
)

func (c EnvCondition) Valid() bool {
	switch c {
	case CondSunny, CondCloudy, CondRainy:
		return true
	}
	return false
}
