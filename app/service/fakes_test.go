package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
	"github.com/vibast-solutions/ms-go-isp-billing/app/repository"
)

// memStore backs every fake repository. Transactions are serialized through
// txMu and rolled back by restoring a snapshot.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	payments  map[string]*entity.PendingPayment
	users     map[uint64]*entity.User
	packages  []*entity.Package
	subs      map[uint64]*entity.Subscription
	callbacks []*entity.PaymentCallback
	events    []*entity.BillingEvent
	nextID    uint64

	stalePages int

	failSubCreate    error
	beforeDeactivate func()
}

func newMemStore() *memStore {
	return &memStore{
		payments: map[string]*entity.PendingPayment{},
		users:    map[uint64]*entity.User{},
		subs:     map[uint64]*entity.Subscription{},
		nextID:   100,
	}
}

func (m *memStore) newID() uint64 {
	m.nextID++
	return m.nextID
}

type memSnapshot struct {
	payments map[string]entity.PendingPayment
	subs     map[uint64]entity.Subscription
	events   int
	nextID   uint64
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := memSnapshot{
		payments: map[string]entity.PendingPayment{},
		subs:     map[uint64]entity.Subscription{},
		events:   len(m.events),
		nextID:   m.nextID,
	}
	for k, v := range m.payments {
		snap.payments[k] = *v
	}
	for k, v := range m.subs {
		snap.subs[k] = *v
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.payments = map[string]*entity.PendingPayment{}
	for k, v := range snap.payments {
		item := v
		m.payments[k] = &item
	}
	m.subs = map[uint64]*entity.Subscription{}
	for k, v := range snap.subs {
		item := v
		m.subs[k] = &item
	}
	m.events = m.events[:snap.events]
	m.nextID = snap.nextID
}

func (m *memStore) subsForUser(userID uint64) []entity.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entity.Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) callbackStatuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		out = append(out, cb.Status)
	}
	return out
}

func (m *memStore) payment(token string) entity.PendingPayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[token]
}

type memTx struct{ store *memStore }

func (t memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()

	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

type paymentStore struct{ *memStore }

func (s paymentStore) Create(_ context.Context, payment *entity.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.CorrelationToken]; ok {
		return repository.ErrDuplicateToken
	}
	payment.ID = s.newID()
	item := *payment
	s.payments[payment.CorrelationToken] = &item
	return nil
}

func (s paymentStore) FindByToken(_ context.Context, token string) (*entity.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.payments[token]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (s paymentStore) Finalize(_ context.Context, token string, outcome entity.PaymentOutcome) (*entity.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.payments[token]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if item.Status != entity.PaymentStatusPending {
		copyItem := *item
		return &copyItem, repository.ErrAlreadyFinalized
	}

	finalizedAt := outcome.FinalizedAt
	item.Status = outcome.Status
	item.ResultCode = outcome.ResultCode
	item.ResultDesc = outcome.ResultDesc
	item.ReceiptNumber = outcome.ReceiptNumber
	item.ConfirmedAmount = outcome.ConfirmedAmount
	item.FinalizedAt = &finalizedAt
	item.UpdatedAt = finalizedAt

	copyItem := *item
	return &copyItem, nil
}

func (s paymentStore) ListStalePending(_ context.Context, before time.Time, afterID uint64, limit int32) ([]*entity.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stalePages++
	var out []*entity.PendingPayment
	for _, item := range s.payments {
		if item.Status == entity.PaymentStatusPending && !item.CreatedAt.After(before) && item.ID > afterID {
			copyItem := *item
			out = append(out, &copyItem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s paymentStore) ListByUser(_ context.Context, userID uint64, limit, offset int32) ([]*entity.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.PendingPayment
	for _, item := range s.payments {
		if item.UserID == userID {
			copyItem := *item
			out = append(out, &copyItem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

type subStore struct{ *memStore }

func (s subStore) ListByUser(_ context.Context, userID uint64, limit, offset int32) ([]*entity.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			copySub := *sub
			out = append(out, &copySub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, offset), nil
}

func (s subStore) Create(_ context.Context, sub *entity.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSubCreate != nil {
		return s.failSubCreate
	}
	sub.ID = s.newID()
	item := *sub
	s.subs[sub.ID] = &item
	return nil
}

func (s subStore) Update(_ context.Context, sub *entity.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return repository.ErrSubscriptionNotFound
	}
	item := *sub
	s.subs[sub.ID] = &item
	return nil
}

func (s subStore) FindLatestByUser(_ context.Context, userID uint64) (*entity.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *entity.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID {
			continue
		}
		if best == nil || laterSubscription(sub, best) {
			best = sub
		}
	}
	if best == nil {
		return nil, nil
	}
	copyItem := *best
	return &copyItem, nil
}

func (s subStore) FindLatestByUserForUpdate(ctx context.Context, userID uint64) (*entity.Subscription, error) {
	return s.FindLatestByUser(ctx, userID)
}

func laterSubscription(a, b *entity.Subscription) bool {
	if a.IsActive != b.IsActive {
		return a.IsActive
	}
	if !a.EndDate.Equal(b.EndDate) {
		return a.EndDate.After(b.EndDate)
	}
	return a.ID > b.ID
}

func (s subStore) ListExpiredActive(_ context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.Subscription
	for _, sub := range s.subs {
		if sub.IsActive && sub.EndDate.Before(now) && int32(len(out)) < limit {
			copyItem := *sub
			out = append(out, &copyItem)
		}
	}
	return out, nil
}

func (s subStore) DeactivateIfExpired(_ context.Context, id uint64, now time.Time) (bool, error) {
	if hook := s.beforeDeactivate; hook != nil {
		s.beforeDeactivate = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || !sub.IsActive || !sub.EndDate.Before(now) {
		return false, nil
	}
	sub.IsActive = false
	sub.UpdatedAt = now
	return true, nil
}

type userStore struct{ *memStore }

func (s userStore) FindByID(_ context.Context, id uint64) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

func (s userStore) FindByPhone(_ context.Context, phone string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.PhoneNumber == phone {
			copyUser := *user
			return &copyUser, nil
		}
	}
	return nil, nil
}

func (s userStore) LockByID(ctx context.Context, id uint64) (*entity.User, error) {
	return s.FindByID(ctx, id)
}

type packageStore struct{ *memStore }

func (s packageStore) FindByID(_ context.Context, id uint64) (*entity.Package, error) {
	for _, pkg := range s.packages {
		if pkg.ID == id {
			copyPkg := *pkg
			return &copyPkg, nil
		}
	}
	return nil, nil
}

func (s packageStore) FindActiveByPrice(_ context.Context, amount decimal.Decimal) (*entity.Package, error) {
	for _, pkg := range s.packages {
		if pkg.IsActive && pkg.Price.Equal(amount) {
			copyPkg := *pkg
			return &copyPkg, nil
		}
	}
	return nil, nil
}

type callbackStore struct{ *memStore }

func (s callbackStore) Create(_ context.Context, callback *entity.PaymentCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callback.ID = s.newID()
	item := *callback
	s.callbacks = append(s.callbacks, &item)
	return nil
}

type eventStore struct{ *memStore }

func (s eventStore) Create(_ context.Context, event *entity.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.newID()
	item := *event
	s.events = append(s.events, &item)
	return nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	applies  []string
	revokes  []string
	stillDue []func(ctx context.Context) bool
	tasks    []provisioning.Task
}

func (d *fakeDispatcher) EnqueueApply(username, profile string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applies = append(d.applies, username+":"+profile)
	return true
}

func (d *fakeDispatcher) EnqueueRevoke(username string, still func(ctx context.Context) bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revokes = append(d.revokes, username)
	d.stillDue = append(d.stillDue, still)
	return true
}

func (d *fakeDispatcher) Submit(task provisioning.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return true
}

type fakeGateway struct {
	mu       sync.Mutex
	result   *provider.ChargeResult
	err      error
	charges  []provider.ChargeRequest
	statuses map[string]*provider.ChargeStatus
}

func (g *fakeGateway) ObtainAccessToken(context.Context) (*provider.Token, error) {
	return &provider.Token{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (g *fakeGateway) InitiateCharge(_ context.Context, req provider.ChargeRequest) (*provider.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGateway) QueryCharge(_ context.Context, token string) (*provider.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[token]
	if !ok {
		return nil, &provider.GatewayError{Op: "stk query", StatusCode: 500, Message: "unavailable"}
	}
	return status, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) SubscriptionActivated(_ context.Context, user *entity.User, sub *entity.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, user.Username+":"+sub.PackageName)
	return nil
}

type fakeLocker struct {
	err      error
	unlocked []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return "tok-" + key, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, _ string) error {
	l.unlocked = append(l.unlocked, key)
	return nil
}

type fixture struct {
	store         *memStore
	dispatcher    *fakeDispatcher
	gateway       *fakeGateway
	notifier      *fakeNotifier
	subscriptions *SubscriptionService
	callbacks     *CallbackService
	payments      *PaymentService
	now           time.Time
}

var errStoreDown = errors.New("store down")

func newFixture() *fixture {
	store := newMemStore()
	email := "alice@example.com"
	store.users[7] = &entity.User{ID: 7, Username: "alice", Email: &email, PhoneNumber: "254712345678", IsActive: true}
	store.packages = []*entity.Package{
		{ID: 1, Name: "Home 10M", Price: decimal.NewFromInt(1000), DurationDays: 30, RouterProfile: "home-10m", IsActive: true},
		{ID: 2, Name: "Home 20M", Price: decimal.NewFromInt(2000), DurationDays: 30, RouterProfile: "home-20m", IsActive: true},
		{ID: 3, Name: "Legacy", Price: decimal.NewFromInt(500), DurationDays: 30, RouterProfile: "legacy", IsActive: false},
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	dispatcher := &fakeDispatcher{}
	gateway := &fakeGateway{statuses: map[string]*provider.ChargeStatus{}}
	notifier := &fakeNotifier{}

	subs := NewSubscriptionService(memTx{store}, userStore{store}, packageStore{store}, subStore{store}, eventStore{store}, dispatcher, notifier, nil, 100)
	subs.now = clock
	callbacks := NewCallbackService(memTx{store}, paymentStore{store}, callbackStore{store}, eventStore{store}, subs, gateway, 15*time.Minute, 24*time.Hour, 100)
	callbacks.now = clock
	payments := NewPaymentService(paymentStore{store}, userStore{store}, gateway, "")
	payments.now = clock

	return &fixture{
		store:         store,
		dispatcher:    dispatcher,
		gateway:       gateway,
		notifier:      notifier,
		subscriptions: subs,
		callbacks:     callbacks,
		payments:      payments,
		now:           now,
	}
}

func (f *fixture) seedPending(token string, amount int64, createdAt time.Time) {
	f.store.payments[token] = &entity.PendingPayment{
		ID:               f.store.newID(),
		CorrelationToken: token,
		PayerReference:   "USER_7",
		UserID:           7,
		Amount:           decimal.NewFromInt(amount),
		PhoneNumber:      "254712345678",
		Status:           entity.PaymentStatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func (f *fixture) seedSubscription(packageID uint64, start, end time.Time, active bool) *entity.Subscription {
	var pkg *entity.Package
	for _, p := range f.store.packages {
		if p.ID == packageID {
			pkg = p
		}
	}
	id := pkg.ID
	sub := &entity.Subscription{
		ID:            f.store.newID(),
		UserID:        7,
		PackageID:     &id,
		PackageName:   pkg.Name,
		Price:         pkg.Price,
		RouterProfile: pkg.RouterProfile,
		StartDate:     start,
		EndDate:       end,
		IsActive:      active,
	}
	f.store.subs[sub.ID] = sub
	return sub
}

func stkCallback(token string, resultCode int, amount int64) []byte {
	if resultCode != 0 {
		return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"Request cancelled by user"}}}`, token, resultCode))
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":%d},{"Name":"MpesaReceiptNumber","Value":"QK12ABC"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`, token, amount))
}
