package hooks

// Hook names fired by the core.
const (
	SettingChanged = "setting_changed" // key, value
	Shutdown       = "shutdown"
	Copyover       = "copyover"
	Pulse          = "pulse"
)
