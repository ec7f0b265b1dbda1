package util

import "fmt"

const (
	MinPort = 1
	MaxPort = 65535
)

// ValidatePort checks that port is a usable TCP port (1-65535).
//
// Row and jump server ports arrive as free-form numbers from the web form, so
// a bad value is rejected when the batch is submitted rather than surfacing
// later as a confusing dial error.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (must be %d-%d)", port, MinPort, MaxPort)
	}
	return nil
}
