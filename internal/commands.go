package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/mcpserver"
	"github.com/starford/codex/internal/models"
)

// withService opens the content stack, runs fn against a service without
// metrics or event publishing, and closes the stack again.
func withService(ctx context.Context, opts []Option, fn func(*cms.Service, *components) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.open(ctx, app.newLogger())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c.service(nil), c)
}

// RebuildURLs rebuilds the URL index and returns the number of URLs.
func RebuildURLs(ctx context.Context, opts ...Option) (int, error) {
	var n int
	err := withService(ctx, opts, func(svc *cms.Service, c *components) error {
		var err error
		n, err = svc.RebuildURLs(ctx)
		if err != nil {
			return fmt.Errorf("rebuild urls: %w", err)
		}
		c.logger.Info("url index rebuilt", slog.Int("urls", n))
		return nil
	})
	return n, err
}

// Rollback reverts transaction xid on behalf of the user with id userID.
func Rollback(ctx context.Context, xid, userID string, opts ...Option) (change.Summary, error) {
	var sum change.Summary
	err := withService(ctx, opts, func(svc *cms.Service, c *components) error {
		user, err := svc.User(ctx, userID)
		if err != nil {
			return fmt.Errorf("rollback: user %q: %w", userID, err)
		}
		if user.IsAnonymous() {
			return fmt.Errorf("rollback: a user is required")
		}
		r, err := svc.Rollback(ctx, xid, user)
		if err != nil {
			return fmt.Errorf("rollback %s: %w", xid, err)
		}
		sum = r.Summary()
		c.logger.Info("transaction rolled back",
			slog.String("xid", xid),
			slog.String("rollback_xid", sum.TransactionID))
		return nil
	})
	return sum, err
}

// Prune removes unreachable versions and returns them per element.
func Prune(ctx context.Context, opts ...Option) (map[string][]int, error) {
	var pruned map[string][]int
	err := withService(ctx, opts, func(svc *cms.Service, c *components) error {
		var err error
		pruned, err = svc.Prune(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		c.logger.Info("unreachable versions pruned", slog.Int("elements", len(pruned)))
		return nil
	})
	return pruned, err
}

// AddUser registers a user and returns it with its assigned id.
func AddUser(ctx context.Context, name, email string, opts ...Option) (*models.User, error) {
	u := &models.User{Name: name, Email: email}
	err := withService(ctx, opts, func(svc *cms.Service, c *components) error {
		if err := svc.RegisterUser(ctx, u); err != nil {
			return fmt.Errorf("add user: %w", err)
		}
		c.logger.Info("user registered", slog.String("id", u.ID), slog.String("name", u.Name))
		return nil
	})
	return u, err
}

// ServeMCP serves the MCP tools on stdin/stdout until the client
// disconnects. Writes act as the user configured in auth.mcp_user.
func ServeMCP(ctx context.Context, opts ...Option) error {
	return withService(ctx, opts, func(svc *cms.Service, c *components) error {
		user, err := svc.User(ctx, c.cfg.Auth.MCPUser)
		if err != nil {
			return fmt.Errorf("mcp: user %q: %w", c.cfg.Auth.MCPUser, err)
		}
		if user.IsAnonymous() {
			c.logger.Warn("mcp: no user configured, serving read-only")
		}
		c.logger.Info("mcp: serving on stdio", slog.String("user", user.Name))
		return mcpserver.New(svc, user).ServeStdio()
	})
}
