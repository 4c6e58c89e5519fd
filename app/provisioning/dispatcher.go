package provisioning

import "context"

const (
	TaskApply  = "router_apply"
	TaskRevoke = "router_revoke"
)

// Dispatcher hands router changes to the pool. The billing write is already
// committed when these are called. A change the provisioner refuses is
// returned to the pool as an error so it gets retried.
type Dispatcher struct {
	pool        *Pool
	provisioner Provisioner
}

func NewDispatcher(pool *Pool, provisioner Provisioner) *Dispatcher {
	return &Dispatcher{pool: pool, provisioner: provisioner}
}

func (d *Dispatcher) EnqueueApply(username, profile string) bool {
	return d.pool.Submit(Task{
		Kind: TaskApply,
		Key:  username,
		Run: func(ctx context.Context) error {
			if !d.provisioner.Apply(ctx, username, profile) {
				return &Error{Op: "apply", Username: username, Err: ErrRejected}
			}
			return nil
		},
	})
}

// EnqueueRevoke withdraws access. A non-nil still is asked again when the
// task runs; false completes the task without touching the router.
func (d *Dispatcher) EnqueueRevoke(username string, still func(ctx context.Context) bool) bool {
	return d.pool.Submit(Task{
		Kind: TaskRevoke,
		Key:  username,
		Run: func(ctx context.Context) error {
			if still != nil && !still(ctx) {
				return nil
			}
			if !d.provisioner.Revoke(ctx, username) {
				return &Error{Op: "revoke", Username: username, Err: ErrRejected}
			}
			return nil
		},
	})
}

// Submit runs an arbitrary best-effort task on the same pool.
func (d *Dispatcher) Submit(task Task) bool {
	return d.pool.Submit(task)
}
