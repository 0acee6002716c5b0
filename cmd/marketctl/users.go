package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskerhub/marketplace/internal/bootstrap"
	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/user"
	"github.com/taskerhub/marketplace/internal/middleware"
)

func seedAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or refresh the platform administrator from bootstrap config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				email := app.Config.Bootstrap.AdminEmail
				if email == "" {
					return errors.New("bootstrap.admin_email is not set")
				}
				u, err := upsertUser(ctx, app, email, app.Config.Bootstrap.AdminName, user.RoleAdmin, true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage marketplace users",
	}

	var (
		name     string
		role     string
		approved bool
	)
	add := &cobra.Command{
		Use:   "add [email]",
		Short: "Create a user or update an existing one by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := user.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				u, err := upsertUser(ctx, app, args[0], name, r, approved)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), u)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&role, "role", string(user.RoleRequester), "Role (requester, provider, admin)")
	add.Flags().BoolVar(&approved, "approved", false, "Mark a provider as approved to accept requests")

	cmd.AddCommand(add)
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				if app.Config.Auth.JWTSecret == "" {
					return errors.New("auth.jwt_secret is not set")
				}
				u, err := app.Repositories().Users.GetUser(ctx, id)
				if err != nil {
					return err
				}
				if ttl <= 0 {
					ttl = app.Config.Auth.JWTExpiry
				}
				token, err := middleware.IssueToken(app.Config.Auth.JWTSecret, u.ID, u.Role, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.jwt_expiry)")
	return cmd
}

func upsertUser(ctx context.Context, app *bootstrap.App, email, name string, role user.Role, approved bool) (*user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	users := app.Repositories().Users
	now := time.Now().UTC()

	u, err := users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, domainErrors.ErrUserNotFound):
		u = &user.User{ID: uuid.New(), Email: email, CreatedAt: now}
	case err != nil:
		return nil, err
	}
	if name != "" {
		u.Name = name
	}
	u.Role = role
	u.IsApproved = approved || role == user.RoleAdmin
	u.UpdatedAt = now

	if err := users.Upsert(ctx, u); err != nil {
		return nil, err
	}
	app.Logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user saved")
	return u, nil
}
