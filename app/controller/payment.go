package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/service"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

const maxCallbackBodyBytes = 1 << 20

type PaymentController struct {
	paymentService  *service.PaymentService
	callbackService *service.CallbackService
	logger          logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService, callbackService *service.CallbackService) *PaymentController {
	return &PaymentController{
		paymentService:  paymentService,
		callbackService: callbackService,
		logger:          factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiatePayment(ctx echo.Context) error {
	req, err := types.NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	payment, result, err := c.paymentService.InitiatePayment(ctx.Request().Context(), req)
	if err != nil {
		var vErr *types.ValidationError
		switch {
		case errors.As(err, &vErr):
			return writeRequestError(ctx, vErr)
		case errors.Is(err, service.ErrInvalidRequest):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUserNotFound):
			return writeError(ctx, http.StatusNotFound, "user not found")
		case errors.Is(err, service.ErrPaymentAlreadyExists):
			return writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, provider.ErrGateway):
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Payment gateway refused charge")
			return writeError(ctx, http.StatusBadGateway, "payment gateway unavailable")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Initiate payment failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.InitiatePaymentResponse{
		Payment:          mapper.PendingPaymentToResponse(payment),
		CustomerMessage:  result.CustomerMessage,
		ProviderResponse: result.Raw,
	})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	payment, err := c.paymentService.GetPayment(ctx.Request().Context(), req.GetToken())
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return writeError(ctx, http.StatusNotFound, "payment not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get payment failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.PendingPaymentToResponse(payment))
}

func (c *PaymentController) ListPayments(ctx echo.Context) error {
	req, err := types.NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		return writeRequestError(ctx, err)
	}
	if err := req.Validate(); err != nil {
		return writeRequestError(ctx, err)
	}

	items, err := c.paymentService.ListPayments(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List payments failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentsResponse{Payments: mapper.PendingPaymentsToResponse(items)})
}

// MpesaCallback always acknowledges. Anything but a 200 makes the provider
// redeliver, and every outcome is already recorded by the reconciler.
func (c *PaymentController) MpesaCallback(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxCallbackBodyBytes))
	if err != nil {
		l.WithError(err).Warn("Failed to read callback body")
		return ctx.JSON(http.StatusOK, types.NewCallbackAck())
	}

	outcome, err := c.callbackService.ReconcileMpesaCallback(ctx.Request().Context(), body)
	if err != nil {
		l.WithError(err).Error("Callback reconciliation failed")
	} else {
		l.WithField("outcome", outcome.Status).Info("Callback reconciled")
	}

	return ctx.JSON(http.StatusOK, types.NewCallbackAck())
}

func writeRequestError(ctx echo.Context, err error) error {
	var vErr *types.ValidationError
	if errors.As(err, &vErr) {
		return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: vErr.Error(), Field: vErr.Field})
	}
	return writeError(ctx, http.StatusBadRequest, err.Error())
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
