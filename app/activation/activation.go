// Package activation computes subscription validity windows. Every function is
// pure: callers load the current state, call in, and persist what comes back.
package activation

import (
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

var (
	ErrAlreadySubscribed    = errors.New("already subscribed to this package")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInvalidPackage       = errors.New("package duration must be positive")
)

type Action int

const (
	ActionActivate Action = iota + 1
	ActionRenew
	ActionChangePlan
	// ActionReplaceLapsed closes a lapsed subscription on another package and
	// starts a new one.
	ActionReplaceLapsed
)

func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "activate"
	case ActionRenew:
		return "renew"
	case ActionChangePlan:
		return "change_plan"
	case ActionReplaceLapsed:
		return "replace_lapsed"
	default:
		return "unknown"
	}
}

// Decide picks what a confirmed payment for pkg does to latest, the user's
// most recent subscription (nil when the user never subscribed).
func Decide(latest *entity.Subscription, pkg *entity.Package, now time.Time) Action {
	if latest == nil {
		return ActionActivate
	}
	if latest.HoldsPackage(pkg.ID) {
		return ActionRenew
	}
	if latest.IsActive && latest.EndDate.After(now) {
		return ActionChangePlan
	}
	return ActionReplaceLapsed
}

func ActivateNew(userID uint64, pkg *entity.Package, now time.Time) (*entity.Subscription, error) {
	if pkg.DurationDays <= 0 {
		return nil, ErrInvalidPackage
	}

	packageID := pkg.ID
	return &entity.Subscription{
		UserID:        userID,
		PackageID:     &packageID,
		PackageName:   pkg.Name,
		Price:         pkg.Price,
		RouterProfile: pkg.RouterProfile,
		StartDate:     now,
		EndDate:       now.Add(pkg.Duration()),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Renew extends current by one pkg duration. An unexpired window is extended
// from its end date; a lapsed one restarts at now.
func Renew(current *entity.Subscription, pkg *entity.Package, now time.Time) (*entity.Subscription, error) {
	if current == nil {
		return nil, ErrNoActiveSubscription
	}
	if pkg.DurationDays <= 0 {
		return nil, ErrInvalidPackage
	}

	renewed := *current
	if current.EndDate.After(now) {
		renewed.EndDate = current.EndDate.Add(pkg.Duration())
	} else {
		renewed.StartDate = now
		renewed.EndDate = now.Add(pkg.Duration())
	}

	packageID := pkg.ID
	renewed.PackageID = &packageID
	renewed.PackageName = pkg.Name
	renewed.Price = pkg.Price
	renewed.RouterProfile = pkg.RouterProfile
	renewed.IsActive = true
	renewed.UpdatedAt = now

	return &renewed, nil
}

// ChangePlan closes current at now and opens a fresh subscription on newPkg.
func ChangePlan(current *entity.Subscription, newPkg *entity.Package, now time.Time) (closed *entity.Subscription, fresh *entity.Subscription, err error) {
	if current == nil || !current.IsActive || !current.ActiveAt(now) {
		return nil, nil, ErrNoActiveSubscription
	}
	if current.HoldsPackage(newPkg.ID) {
		return nil, nil, ErrAlreadySubscribed
	}

	fresh, err = ActivateNew(current.UserID, newPkg, now)
	if err != nil {
		return nil, nil, err
	}

	closed = Close(current, now)
	return closed, fresh, nil
}

// Close returns a copy of sub deactivated at now. The end date never moves forward.
func Close(sub *entity.Subscription, now time.Time) *entity.Subscription {
	closed := *sub
	closed.IsActive = false
	if closed.EndDate.After(now) {
		closed.EndDate = now
	}
	closed.UpdatedAt = now
	return &closed
}
