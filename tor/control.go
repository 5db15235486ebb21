package tor

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/tornago"
)

// ControlAuth selects how the controller authenticates. A CookieFile takes
// precedence over Password; both empty means no credential, which Tor
// accepts when the control port has no authentication configured.
type ControlAuth struct {
	Password   string
	CookieFile string
}

func (a ControlAuth) clientAuth() tornago.ControlAuth {
	if a.CookieFile != "" {
		return tornago.ControlAuthFromCookie(a.CookieFile)
	}
	return tornago.ControlAuthFromPassword(a.Password)
}

// Controller requests new identities from a Tor control port. Each call
// opens its own tornago control connection, authenticates, and closes it.
type Controller struct {
	addr    string
	auth    ControlAuth
	timeout time.Duration
}

// NewController returns a controller for the control port at addr.
func NewController(addr string, auth ControlAuth, timeout time.Duration) *Controller {
	return &Controller{addr: addr, auth: auth, timeout: timeout}
}

// Addr returns the control port address.
func (c *Controller) Addr() string {
	return c.addr
}

// NewIdentity authenticates and sends SIGNAL NEWNYM. Failures wrap
// ErrControlConnect, ErrControlAuth or ErrControlSignal.
func (c *Controller) NewIdentity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := tornago.NewControlClient(c.addr, c.auth.clientAuth(), c.timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrControlConnect, c.addr, err)
	}
	defer client.Close()

	if err := client.Authenticate(); err != nil {
		return fmt.Errorf("%w: %w", ErrControlAuth, err)
	}
	if err := client.NewIdentity(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrControlSignal, err)
	}
	return nil
}
