package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type GetSubscriptionRequest struct {
	UserId uint64
}

func (r *GetSubscriptionRequest) GetUserId() uint64 { return r.UserId }

func NewGetSubscriptionRequestFromContext(ctx echo.Context) (*GetSubscriptionRequest, error) {
	userID, err := parseUserIDParam(ctx)
	if err != nil {
		return nil, err
	}
	return &GetSubscriptionRequest{UserId: userID}, nil
}

func (r *GetSubscriptionRequest) Validate() error {
	if r.GetUserId() == 0 {
		return NewValidationError("user_id", "is required")
	}
	return nil
}

type ChangePlanRequest struct {
	UserId    uint64 `json:"-"`
	PackageId uint64 `json:"package_id"`
}

func (r *ChangePlanRequest) GetUserId() uint64    { return r.UserId }
func (r *ChangePlanRequest) GetPackageId() uint64 { return r.PackageId }

func NewChangePlanRequestFromContext(ctx echo.Context) (*ChangePlanRequest, error) {
	userID, err := parseUserIDParam(ctx)
	if err != nil {
		return nil, err
	}

	var body ChangePlanRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.UserId = userID
	return &body, nil
}

func (r *ChangePlanRequest) Validate() error {
	if r.GetUserId() == 0 {
		return NewValidationError("user_id", "is required")
	}
	if r.GetPackageId() == 0 {
		return NewValidationError("package_id", "is required")
	}
	return nil
}

type SubscriptionResponse struct {
	Id            uint64    `json:"id"`
	UserId        uint64    `json:"user_id"`
	PackageId     *uint64   `json:"package_id"`
	PackageName   string    `json:"package_name"`
	Price         string    `json:"price"`
	RouterProfile string    `json:"router_profile"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	IsActive      bool      `json:"is_active"`
}

type UsageResponse struct {
	UserId        uint64 `json:"user_id"`
	Username      string `json:"username"`
	UploadBytes   int64  `json:"upload_bytes"`
	DownloadBytes int64  `json:"download_bytes"`
}

func parseUserIDParam(ctx echo.Context) (uint64, error) {
	raw := strings.TrimSpace(ctx.Param("user_id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, NewValidationError("user_id", "must be a positive integer")
	}
	return id, nil
}
