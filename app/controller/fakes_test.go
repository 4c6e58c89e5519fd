package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
	"github.com/vibast-solutions/ms-go-isp-billing/app/repository"
)

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type controllerPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*entity.PendingPayment
	findErr  error
	listErr  error
}

func newControllerPaymentRepo() *controllerPaymentRepo {
	return &controllerPaymentRepo{payments: map[string]*entity.PendingPayment{}}
}

func (r *controllerPaymentRepo) Create(_ context.Context, payment *entity.PendingPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.CorrelationToken]; ok {
		return repository.ErrDuplicateToken
	}
	payment.ID = uint64(len(r.payments) + 1)
	copyItem := *payment
	r.payments[payment.CorrelationToken] = &copyItem
	return nil
}

func (r *controllerPaymentRepo) FindByToken(_ context.Context, token string) (*entity.PendingPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	item, ok := r.payments[token]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *controllerPaymentRepo) Finalize(_ context.Context, token string, outcome entity.PaymentOutcome) (*entity.PendingPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.payments[token]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if item.Status.Terminal() {
		copyItem := *item
		return &copyItem, repository.ErrAlreadyFinalized
	}
	item.Status = outcome.Status
	item.ResultCode = outcome.ResultCode
	item.ResultDesc = outcome.ResultDesc
	finalizedAt := outcome.FinalizedAt
	item.FinalizedAt = &finalizedAt
	copyItem := *item
	return &copyItem, nil
}

func (r *controllerPaymentRepo) ListStalePending(context.Context, time.Time, uint64, int32) ([]*entity.PendingPayment, error) {
	return nil, nil
}

func (r *controllerPaymentRepo) ListByUser(_ context.Context, userID uint64, limit, offset int32) ([]*entity.PendingPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*entity.PendingPayment
	for _, item := range r.payments {
		if item.UserID == userID {
			copyItem := *item
			out = append(out, &copyItem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return window(out, limit, offset), nil
}

type controllerUserRepo struct {
	users map[uint64]*entity.User
}

func (r *controllerUserRepo) FindByID(_ context.Context, id uint64) (*entity.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

func (r *controllerUserRepo) FindByPhone(context.Context, string) (*entity.User, error) {
	return nil, nil
}

func (r *controllerUserRepo) LockByID(ctx context.Context, id uint64) (*entity.User, error) {
	return r.FindByID(ctx, id)
}

type controllerPackageRepo struct {
	packages map[uint64]*entity.Package
}

func (r *controllerPackageRepo) FindByID(_ context.Context, id uint64) (*entity.Package, error) {
	pkg, ok := r.packages[id]
	if !ok {
		return nil, nil
	}
	copyPkg := *pkg
	return &copyPkg, nil
}

func (r *controllerPackageRepo) FindActiveByPrice(_ context.Context, amount decimal.Decimal) (*entity.Package, error) {
	for _, pkg := range r.packages {
		if pkg.IsActive && pkg.Price.Equal(amount) {
			copyPkg := *pkg
			return &copyPkg, nil
		}
	}
	return nil, nil
}

type controllerSubscriptionRepo struct {
	subs   map[uint64]*entity.Subscription
	nextID uint64
}

func (r *controllerSubscriptionRepo) Create(_ context.Context, sub *entity.Subscription) error {
	r.nextID++
	sub.ID = r.nextID
	copySub := *sub
	r.subs[sub.ID] = &copySub
	return nil
}

func (r *controllerSubscriptionRepo) Update(_ context.Context, sub *entity.Subscription) error {
	copySub := *sub
	r.subs[sub.ID] = &copySub
	return nil
}

func (r *controllerSubscriptionRepo) FindLatestByUser(_ context.Context, userID uint64) (*entity.Subscription, error) {
	var best *entity.Subscription
	for _, sub := range r.subs {
		if sub.UserID != userID {
			continue
		}
		if best == nil || (sub.IsActive && !best.IsActive) || (sub.IsActive == best.IsActive && sub.EndDate.After(best.EndDate)) {
			best = sub
		}
	}
	if best == nil {
		return nil, nil
	}
	copySub := *best
	return &copySub, nil
}

func (r *controllerSubscriptionRepo) FindLatestByUserForUpdate(ctx context.Context, userID uint64) (*entity.Subscription, error) {
	return r.FindLatestByUser(ctx, userID)
}

func (r *controllerSubscriptionRepo) ListByUser(_ context.Context, userID uint64, limit, offset int32) ([]*entity.Subscription, error) {
	var out []*entity.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			copySub := *sub
			out = append(out, &copySub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return window(out, limit, offset), nil
}

func window[T any](items []T, limit, offset int32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *controllerSubscriptionRepo) ListExpiredActive(context.Context, time.Time, int32) ([]*entity.Subscription, error) {
	return nil, nil
}

func (r *controllerSubscriptionRepo) DeactivateIfExpired(context.Context, uint64, time.Time) (bool, error) {
	return false, nil
}

type controllerCallbackRepo struct {
	mu      sync.Mutex
	records []*entity.PaymentCallback
}

func (r *controllerCallbackRepo) Create(_ context.Context, callback *entity.PaymentCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *callback
	r.records = append(r.records, &copyItem)
	return nil
}

type controllerEventRepo struct {
	events []*entity.BillingEvent
}

func (r *controllerEventRepo) Create(_ context.Context, event *entity.BillingEvent) error {
	r.events = append(r.events, event)
	return nil
}

type controllerDispatcher struct {
	applies []string
}

func (d *controllerDispatcher) EnqueueApply(username, profile string) bool {
	d.applies = append(d.applies, username+":"+profile)
	return true
}

func (d *controllerDispatcher) EnqueueRevoke(string, func(context.Context) bool) bool { return true }

func (d *controllerDispatcher) Submit(provisioning.Task) bool { return true }

type controllerGateway struct {
	result *provider.ChargeResult
	err    error
}

func (g *controllerGateway) ObtainAccessToken(context.Context) (*provider.Token, error) {
	return &provider.Token{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (g *controllerGateway) InitiateCharge(_ context.Context, req provider.ChargeRequest) (*provider.ChargeResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	result := *g.result
	result.PhoneNumber = req.PhoneNumber
	return &result, nil
}

func (g *controllerGateway) QueryCharge(context.Context, string) (*provider.ChargeStatus, error) {
	return nil, &provider.GatewayError{Op: "stk query", Message: "not used"}
}
