package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

const packageColumns = `
	id, name, price, duration_days, download_speed_kbps, upload_speed_kbps,
	data_cap_mb, router_profile, is_active
`

type PackageRepository struct {
	db DBTX
}

func NewPackageRepository(db DBTX) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) FindByID(ctx context.Context, id uint64) (*entity.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = ?`

	pkg := &entity.Package{}
	if err := scanPackage(conn(ctx, r.db).QueryRowContext(ctx, query, id), pkg); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return pkg, nil
}

// FindActiveByPrice returns the first active package, in catalog order, whose
// price equals amount.
func (r *PackageRepository) FindActiveByPrice(ctx context.Context, amount decimal.Decimal) (*entity.Package, error) {
	query := `SELECT ` + packageColumns + `
		FROM packages
		WHERE is_active = 1 AND price = ?
		ORDER BY price ASC, id ASC
		LIMIT 1
	`

	pkg := &entity.Package{}
	if err := scanPackage(conn(ctx, r.db).QueryRowContext(ctx, query, amount.String()), pkg); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return pkg, nil
}

func scanPackage(scan rowScanner, pkg *entity.Package) error {
	var download sql.NullInt32
	var upload sql.NullInt32
	var dataCap sql.NullInt64

	err := scan.Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.Price,
		&pkg.DurationDays,
		&download,
		&upload,
		&dataCap,
		&pkg.RouterProfile,
		&pkg.IsActive,
	)
	if err != nil {
		return err
	}

	pkg.DownloadSpeedKbps = int32PtrFromNull(download)
	pkg.UploadSpeedKbps = int32PtrFromNull(upload)
	pkg.DataCapMB = int64PtrFromNull(dataCap)
	return nil
}
