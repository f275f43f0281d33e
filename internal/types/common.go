package types

// BackendName identifies a remote upload backend.
type BackendName string

const (
	// BackendBaidu - token-based backend (Baidu Netdisk open platform)
	BackendBaidu BackendName = "baidu"

	// BackendCloud189 - session-based backend (China Telecom Cloud 189)
	BackendCloud189 BackendName = "cloud189"
)

// String returns the string representation of the backend name.
func (b BackendName) String() string {
	return string(b)
}

// ArchiveExtension is the suffix of every archive produced by the tool.
const ArchiveExtension = ".tar.zst"

// DateLayout is the layout used for the {date} placeholder and archive names.
const DateLayout = "20060102"

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a textual or numeric level into a LogLevel.
// Unknown values map to LogLevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "5":
		return LogLevelDebug
	case "info", "4":
		return LogLevelInfo
	case "warning", "warn", "3":
		return LogLevelWarning
	case "error", "2":
		return LogLevelError
	case "critical", "1":
		return LogLevelCritical
	case "none", "0":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}
