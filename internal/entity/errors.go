package entity

import "errors"

// Storage adapters return these so usecases can tell business outcomes from
// infrastructure trouble without knowing the backing engine.
var (
	ErrNotFound                = errors.New("entity not found")
	ErrVersionConflict         = errors.New("entity changed since it was read")
	ErrDuplicatePurchase       = errors.New("provider already purchased this lead")
	ErrActiveEntitlementExists = errors.New("provider already has an active entitlement")
	ErrTransient               = errors.New("transient storage failure")
)
