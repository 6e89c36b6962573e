package collector

import (
	"errors"
	"fmt"
)

// ErrNoDevices means interface enumeration returned nothing to
// monitor. There is no fallback past this; the session cannot start.
var ErrNoDevices = errors.New("no network devices found")

// DeviceNotFoundError is returned when a named interface has no
// matching row in the counter source.
type DeviceNotFoundError struct {
	Device string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device not found: %s", e.Device)
}

// IsDeviceNotFound reports whether err wraps a DeviceNotFoundError.
func IsDeviceNotFound(err error) bool {
	var dnf *DeviceNotFoundError
	return errors.As(err, &dnf)
}
