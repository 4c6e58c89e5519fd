package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Subscription struct {
	ID uint64

	UserID    uint64
	PackageID *uint64

	// Snapshot of the package at activation time, kept when the package is removed.
	PackageName   string
	Price         decimal.Decimal
	RouterProfile string

	StartDate time.Time
	EndDate   time.Time
	IsActive  bool

	PaymentID *uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveAt reports whether t falls within [StartDate, EndDate).
func (s *Subscription) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartDate) && t.Before(s.EndDate)
}

// HoldsPackage reports whether the subscription references the given package.
func (s *Subscription) HoldsPackage(packageID uint64) bool {
	return s.PackageID != nil && *s.PackageID == packageID
}
