// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Every backup entry completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error (usage errors included).
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration could not be loaded or validated.
	ExitConfigError ExitCode = 2

	// ExitBackupError - One or more backup entries failed.
	ExitBackupError ExitCode = 4

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitInterrupted - Run interrupted by SIGINT/SIGTERM before completion.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitBackupError:
		return "backup error"
	case ExitPanicError:
		return "panic error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
