package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/activation"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-isp-billing/app/service"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

type SubscriptionController struct {
	subscriptionService *service.SubscriptionService
	logger              logrus.FieldLogger
}

func NewSubscriptionController(subscriptionService *service.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{
		subscriptionService: subscriptionService,
		logger:              factory.NewModuleLogger("subscriptions-controller"),
	}
}

func (c *SubscriptionController) GetSubscription(ctx echo.Context) error {
	req, err := types.NewGetSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	sub, err := c.subscriptionService.GetCurrent(ctx.Request().Context(), req.GetUserId())
	if err != nil {
		if errors.Is(err, service.ErrSubscriptionNotFound) {
			return writeError(ctx, http.StatusNotFound, "subscription not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get subscription failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.SubscriptionToResponse(sub))
}

func (c *SubscriptionController) GetHistory(ctx echo.Context) error {
	req, err := types.NewListSubscriptionHistoryRequestFromContext(ctx)
	if err != nil {
		return writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	subs, err := c.subscriptionService.History(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List subscription history failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionHistoryResponse{Subscriptions: mapper.SubscriptionsToResponse(subs)})
}

func (c *SubscriptionController) ChangePlan(ctx echo.Context) error {
	req, err := types.NewChangePlanRequestFromContext(ctx)
	if err != nil {
		return writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	result, err := c.subscriptionService.ChangePlan(ctx.Request().Context(), req.GetUserId(), req.GetPackageId())
	if err != nil {
		switch {
		case errors.Is(err, activation.ErrAlreadySubscribed):
			return writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, activation.ErrNoActiveSubscription),
			errors.Is(err, service.ErrPackageNotFound),
			errors.Is(err, service.ErrUserNotFound):
			return writeError(ctx, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, activation.ErrInvalidPackage):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Change plan failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, mapper.SubscriptionToResponse(result.Subscription))
}

func (c *SubscriptionController) GetUsage(ctx echo.Context) error {
	req, err := types.NewGetSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeRequestError(ctx, err)
	}

	user, usage, err := c.subscriptionService.Usage(ctx.Request().Context(), req.GetUserId())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return writeError(ctx, http.StatusNotFound, "user not found")
		case errors.Is(err, service.ErrInvalidRequest):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUsageUnavailable):
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Router usage unavailable")
			return writeError(ctx, http.StatusServiceUnavailable, "usage is not available")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get usage failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, mapper.UsageToResponse(user, usage))
}
