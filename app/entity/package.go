package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Package struct {
	ID uint64

	Name  string
	Price decimal.Decimal

	DurationDays int32

	DownloadSpeedKbps *int32
	UploadSpeedKbps   *int32
	DataCapMB         *int64

	RouterProfile string
	IsActive      bool
}

func (p *Package) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
