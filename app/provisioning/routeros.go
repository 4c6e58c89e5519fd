package provisioning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
)

type RouterOSConfig struct {
	Address  string
	Username string
	Password string
	Timeout  time.Duration
}

// Session is one authenticated API connection to the router.
type Session interface {
	Run(sentence ...string) ([]map[string]string, error)
	Close()
}

type Dialer func(ctx context.Context) (Session, error)

type routerOSSession struct {
	client *routeros.Client
}

func (s *routerOSSession) Run(sentence ...string) ([]map[string]string, error) {
	reply, err := s.client.Run(sentence...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

func (s *routerOSSession) Close() {
	s.client.Close()
}

func NewRouterOSDialer(cfg RouterOSConfig) Dialer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		client, err := routeros.DialTimeout(cfg.Address, cfg.Username, cfg.Password, timeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
		}
		return &routerOSSession{client: client}, nil
	}
}

// RouterOSProvisioner manages PPP secrets over the RouterOS API. Every call
// opens its own session and closes it before returning.
type RouterOSProvisioner struct {
	dial   Dialer
	logger logrus.FieldLogger
}

func NewRouterOSProvisioner(dial Dialer) *RouterOSProvisioner {
	return &RouterOSProvisioner{dial: dial, logger: factory.NewModuleLogger("provisioning")}
}

func (p *RouterOSProvisioner) Apply(ctx context.Context, username, profile string) bool {
	if err := p.EnableUser(ctx, username, profile); err != nil {
		p.logger.WithError(err).WithField("username", username).Warn("Router apply failed")
		return false
	}
	return true
}

func (p *RouterOSProvisioner) Revoke(ctx context.Context, username string) bool {
	if err := p.DisableUser(ctx, username); err != nil {
		p.logger.WithError(err).WithField("username", username).Warn("Router revoke failed")
		return false
	}
	return true
}

func (p *RouterOSProvisioner) EnableUser(ctx context.Context, username, profile string) error {
	return p.withSession(ctx, "apply", username, func(s Session) error {
		id, err := findID(s, "/ppp/secret/print", username)
		if err != nil {
			return err
		}

		sentence := []string{"/ppp/secret/set", "=.id=" + id, "=disabled=no"}
		if profile != "" {
			sentence = append(sentence, "=profile="+profile)
		}
		_, err = s.Run(sentence...)
		return err
	})
}

// DisableUser disables the secret and disconnects any active session.
func (p *RouterOSProvisioner) DisableUser(ctx context.Context, username string) error {
	return p.withSession(ctx, "revoke", username, func(s Session) error {
		id, err := findID(s, "/ppp/secret/print", username)
		if err != nil {
			return err
		}
		if _, err := s.Run("/ppp/secret/set", "=.id="+id, "=disabled=yes"); err != nil {
			return err
		}

		active, err := s.Run("/ppp/active/print", "?name="+username)
		if err != nil {
			return err
		}
		for _, row := range active {
			if _, err := s.Run("/ppp/active/remove", "=.id="+row[".id"]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LiveUsage reads the simple-queue byte counters for the user.
func (p *RouterOSProvisioner) LiveUsage(ctx context.Context, username string) (*Usage, error) {
	var usage *Usage
	err := p.withSession(ctx, "usage", username, func(s Session) error {
		rows, err := s.Run("/queue/simple/print", "?name="+username)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			usage = &Usage{}
			return nil
		}
		usage, err = parseQueueBytes(rows[0]["bytes"])
		return err
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

func (p *RouterOSProvisioner) withSession(ctx context.Context, op, username string, fn func(Session) error) error {
	session, err := p.dial(ctx)
	if err != nil {
		return &Error{Op: op, Username: username, Err: err}
	}
	defer session.Close()

	if err := fn(session); err != nil {
		return &Error{Op: op, Username: username, Err: err}
	}
	return nil
}

func findID(s Session, path, name string) (string, error) {
	rows, err := s.Run(path, "?name="+name, "=.proplist=.id")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0][".id"] == "" {
		return "", ErrUnknownUser
	}
	return rows[0][".id"], nil
}

// parseQueueBytes parses the "upload/download" counter pair.
func parseQueueBytes(raw string) (*Usage, error) {
	if raw == "" {
		return &Usage{}, nil
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected queue bytes %q", raw)
	}
	up, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("upload bytes: %w", err)
	}
	down, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("download bytes: %w", err)
	}
	return &Usage{UploadBytes: up, DownloadBytes: down}, nil
}
