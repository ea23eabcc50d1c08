package domain

// Login modes are capability profiles. The set mirrors the testtakers file
// format; unknown modes carry no capabilities.
const (
	ModeRunHotReturn  = "run-hot-return"
	ModeRunHotRestart = "run-hot-restart"
	ModeRunTrial      = "run-trial"
	ModeRunReview     = "run-review"
	ModeRunDemo       = "run-demo"
	ModeGroupMonitor  = "group-monitor"
)

// Mode capabilities.
const (
	CapabilityMonitorable = "monitorable"
	CapabilityMonitor     = "monitor"
	CapabilityRestart     = "restart"
)

var modeCapabilities = map[string][]string{
	ModeRunHotReturn:  {CapabilityMonitorable},
	ModeRunHotRestart: {CapabilityMonitorable, CapabilityRestart},
	ModeRunTrial:      {},
	ModeRunReview:     {},
	ModeRunDemo:       {},
	ModeGroupMonitor:  {CapabilityMonitor},
}

// KnownMode reports whether the mode string is one of the defined modes.
func KnownMode(mode string) bool {
	_, ok := modeCapabilities[mode]
	return ok
}

// ModeHasCapability reports whether the given mode carries the capability.
func ModeHasCapability(mode, capability string) bool {
	for _, c := range modeCapabilities[mode] {
		if c == capability {
			return true
		}
	}
	return false
}

// ModesByCapability returns all modes carrying the capability, in a stable order.
func ModesByCapability(capability string) []string {
	ordered := []string{
		ModeRunHotReturn,
		ModeRunHotRestart,
		ModeRunTrial,
		ModeRunReview,
		ModeRunDemo,
		ModeGroupMonitor,
	}
	var modes []string
	for _, mode := range ordered {
		if ModeHasCapability(mode, capability) {
			modes = append(modes, mode)
		}
	}
	return modes
}
