package cli

import (
	gocontext "context"
	"os"
	"os/user"
	"strings"

	"github.com/example/approvals/internal/ctxutil"
)

// globalActor is set from the root --as flag.
var globalActor string

// globalJSON is set from the root --json flag.
var globalJSON bool

// SetActor sets the acting user for all commands.
func SetActor(actor string) {
	globalActor = strings.TrimSpace(actor)
}

// SetJSON switches command output to the JSON request view.
func SetJSON(enabled bool) {
	globalJSON = enabled
}

// Actor returns the acting user: --as, then $APPROVALS_USER, then the OS user.
func Actor() string {
	if globalActor != "" {
		return globalActor
	}
	if v := strings.TrimSpace(os.Getenv("APPROVALS_USER")); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("USER")); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// NewContext creates a context carrying the acting user.
func NewContext() gocontext.Context {
	ctx := gocontext.Background()
	if actor := Actor(); actor != "" {
		return ctxutil.WithActor(ctx, actor)
	}
	return ctx
}
