package health

import "time"

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

func newStatus(component, level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == StatusHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds statuses into one. Any unhealthy input makes the result
// unhealthy; otherwise any degraded input makes it degraded.
func Aggregate(component string, statuses []Status) Status {
	if len(statuses) == 0 {
		return NewHealthy(component, "No components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, s := range statuses {
		if s.IsUnhealthy() {
			hasUnhealthy = true
		} else if s.IsDegraded() {
			hasDegraded = true
		}
	}

	switch {
	case hasUnhealthy:
		return NewUnhealthy(component, "One or more components are unhealthy")
	case hasDegraded:
		return NewDegraded(component, "One or more components are degraded")
	default:
		return NewHealthy(component, "All components are healthy")
	}
}
