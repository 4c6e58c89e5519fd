package mapper

import (
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

func PendingPaymentToResponse(item *entity.PendingPayment) *types.PendingPaymentResponse {
	if item == nil {
		return nil
	}

	resp := &types.PendingPaymentResponse{
		Id:                item.ID,
		CorrelationToken:  item.CorrelationToken,
		MerchantRequestId: item.MerchantRequestID,
		UserId:            item.UserID,
		PhoneNumber:       item.PhoneNumber,
		Amount:            item.Amount.StringFixed(2),
		Status:            string(item.Status),
		ResultCode:        item.ResultCode,
		ResultDesc:        derefString(item.ResultDesc),
		ReceiptNumber:     derefString(item.ReceiptNumber),
		CreatedAt:         item.CreatedAt.UTC(),
	}
	if item.ConfirmedAmount != nil {
		resp.ConfirmedAmount = item.ConfirmedAmount.StringFixed(2)
	}
	if item.FinalizedAt != nil {
		finalizedAt := item.FinalizedAt.UTC()
		resp.FinalizedAt = &finalizedAt
	}
	return resp
}

func PendingPaymentsToResponse(items []*entity.PendingPayment) []*types.PendingPaymentResponse {
	out := make([]*types.PendingPaymentResponse, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, PendingPaymentToResponse(item))
	}
	return out
}

func SubscriptionToResponse(item *entity.Subscription) *types.SubscriptionResponse {
	if item == nil {
		return nil
	}

	return &types.SubscriptionResponse{
		Id:            item.ID,
		UserId:        item.UserID,
		PackageId:     item.PackageID,
		PackageName:   item.PackageName,
		Price:         item.Price.StringFixed(2),
		RouterProfile: item.RouterProfile,
		StartDate:     item.StartDate.UTC(),
		EndDate:       item.EndDate.UTC(),
		IsActive:      item.IsActive,
	}
}

func SubscriptionsToResponse(items []*entity.Subscription) []*types.SubscriptionResponse {
	out := make([]*types.SubscriptionResponse, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, SubscriptionToResponse(item))
	}
	return out
}

func UsageToResponse(user *entity.User, usage *provisioning.Usage) *types.UsageResponse {
	resp := &types.UsageResponse{UserId: user.ID, Username: user.RouterUsername()}
	if usage != nil {
		resp.UploadBytes = usage.UploadBytes
		resp.DownloadBytes = usage.DownloadBytes
	}
	return resp
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
