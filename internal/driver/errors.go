package driver

import (
	"errors"
	"fmt"
)

// Resource names the kind of entity a lookup failed to find.
type Resource uint8

// Resource kinds.
const (
	ResourceDevice Resource = iota + 1
	ResourceCooler
	ResourceLight
	ResourceMonitor
	ResourceSensor
	ResourceSetting
)

func (r Resource) String() string {
	switch r {
	case ResourceDevice:
		return "device"
	case ResourceCooler:
		return "cooler"
	case ResourceLight:
		return "light"
	case ResourceMonitor:
		return "monitor"
	case ResourceSensor:
		return "sensor"
	case ResourceSetting:
		return "setting"
	default:
		return fmt.Sprintf("resource(%d)", uint8(r))
	}
}

// NotFoundError reports that a device or one of its components is unknown.
//
// Match a kind with errors.Is against the package sentinels, or use
// errors.As to read the identifier:
//
//	if errors.Is(err, driver.ErrCoolerNotFound) {
//	    // no such cooler
//	}
type NotFoundError struct {
	Resource Resource
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource.String() + " not found"
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is matches another NotFoundError of the same resource. A target without an
// ID matches any ID.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == e.Resource && (t.ID == "" || t.ID == e.ID)
}

// NotFound returns a NotFoundError for the given resource and identifier.
func NotFound(r Resource, id string) error {
	return &NotFoundError{Resource: r, ID: id}
}

// Not-found sentinels, one per resource kind.
var (
	ErrDeviceNotFound  error = &NotFoundError{Resource: ResourceDevice}
	ErrCoolerNotFound  error = &NotFoundError{Resource: ResourceCooler}
	ErrLightNotFound   error = &NotFoundError{Resource: ResourceLight}
	ErrMonitorNotFound error = &NotFoundError{Resource: ResourceMonitor}
	ErrSensorNotFound  error = &NotFoundError{Resource: ResourceSensor}
	ErrSettingNotFound error = &NotFoundError{Resource: ResourceSetting}
)

// Validation errors for driver handles.
var (
	// ErrInvalidHandle is returned when a handle cannot be built from its Info.
	ErrInvalidHandle = errors.New("driver: invalid handle")

	// ErrIDStoreFailed is returned when a stable device ID cannot be resolved.
	ErrIDStoreFailed = errors.New("driver: id store failed")

	// ErrScopeClosed is returned by Scope.AddDriver after Close.
	ErrScopeClosed = errors.New("driver: scope closed")
)
