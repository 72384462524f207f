package events

import "errors"

// Incident errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrInvalidStatus    = errors.New("invalid incident status")
	ErrInvalidSeverity  = errors.New("invalid incident severity")
	ErrInvalidServices  = errors.New("one or more services are invalid or don't belong to the organization")
	ErrResolvedIncident = errors.New("cannot delete resolved incidents")
)
