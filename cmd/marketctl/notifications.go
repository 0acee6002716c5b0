package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskerhub/marketplace/internal/bootstrap"
	infraRedis "github.com/taskerhub/marketplace/internal/infrastructure/redis"
)

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Inspect delivered notifications",
	}

	var (
		group string
		count int64
		ack   bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow the notification stream as a consumer group member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				cfg := app.Config.Notifications
				if cfg.Driver != "redis" {
					return fmt.Errorf("tail needs the redis notifications driver, configured %q", cfg.Driver)
				}
				consumer := infraRedis.NewStreamConsumer(app.Redis, cfg.Stream, group, app.Config.InstanceID, count, 5*time.Second)
				if err := consumer.CreateGroup(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "following %s as %s/%s\n", cfg.Stream, group, app.Config.InstanceID)

				for {
					msgs, err := consumer.Read(ctx)
					if err != nil {
						if errors.Is(ctx.Err(), context.Canceled) {
							return nil
						}
						return err
					}
					for _, msg := range msgs {
						if err := printJSON(cmd.OutOrStdout(), map[string]any{"id": msg.ID, "values": msg.Values}); err != nil {
							return err
						}
						if ack {
							if err := consumer.Ack(ctx, msg.ID); err != nil {
								return err
							}
						}
					}
				}
			})
		},
	}
	tail.Flags().StringVar(&group, "group", "marketctl", "Consumer group")
	tail.Flags().Int64Var(&count, "count", 10, "Messages per read")
	tail.Flags().BoolVar(&ack, "ack", false, "Acknowledge messages after printing")

	cmd.AddCommand(tail)
	return cmd
}
