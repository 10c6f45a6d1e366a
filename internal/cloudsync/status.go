package cloudsync

// Mode is the top-level sync state of a session.
type Mode string

const (
	ModeUninitialized  Mode = "UNINITIALIZED"
	ModeAuthenticating Mode = "AUTHENTICATING"
	ModeCloudActive    Mode = "CLOUD_ACTIVE"
	ModeLocalFallback  Mode = "LOCAL_FALLBACK"
)

// CloudState is the sub-state of ModeCloudActive.
type CloudState string

const (
	CloudSynced CloudState = "SYNCED"
	CloudSaving CloudState = "SAVING"
	CloudError  CloudState = "ERROR"
)

// Indicator values shown to the user.
const (
	IndicatorSaved       = "saved"
	IndicatorSaving      = "saving"
	IndicatorError       = "error"
	IndicatorSyncedCloud = "synced-cloud"
	IndicatorLocalOnly   = "local-only"
)

// Status is a point-in-time view of the coordinator.
type Status struct {
	Mode      Mode       `json:"mode"`
	Cloud     CloudState `json:"cloud,omitempty"`
	Indicator string     `json:"indicator"`
	Session   string     `json:"session"`
	Document  string     `json:"document,omitempty"`

	// LocalError is the last local save failure, cleared by the next success.
	LocalError string `json:"local_error,omitempty"`
	// RemoteError explains the last remote failure or the demotion cause.
	RemoteError string `json:"remote_error,omitempty"`

	// InFlight counts remote writes whose echo has not arrived yet.
	InFlight int `json:"in_flight"`
}

func indicator(mode Mode, cloud CloudState, demoted bool, localErr string) string {
	switch mode {
	case ModeCloudActive:
		switch cloud {
		case CloudSaving:
			return IndicatorSaving
		case CloudError:
			return IndicatorError
		default:
			return IndicatorSyncedCloud
		}
	case ModeLocalFallback:
		if demoted {
			return IndicatorLocalOnly
		}
	case ModeAuthenticating:
		return IndicatorSaving
	}
	if localErr != "" {
		return IndicatorError
	}
	return IndicatorSaved
}

// modes lists every Mode for the metrics gauge.
var modes = []string{
	string(ModeUninitialized),
	string(ModeAuthenticating),
	string(ModeCloudActive),
	string(ModeLocalFallback),
}
