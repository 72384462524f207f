package catalog

import "errors"

// Catalog errors.
var (
	ErrOrganizationNotFound   = errors.New("organization not found")
	ErrOrganizationSlugExists = errors.New("organization with this slug already exists")
	ErrServiceNotFound        = errors.New("service not found")
	ErrServiceInactive        = errors.New("service is inactive")
	ErrInvalidStatus          = errors.New("invalid service status")
	ErrStatusEventNotFound    = errors.New("status event not found")
)
