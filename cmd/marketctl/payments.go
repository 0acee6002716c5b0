package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskerhub/marketplace/internal/bootstrap"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
)

func reconcileCmd() *cobra.Command {
	var (
		transaction string
		maxAge      time.Duration
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve pending charges by direct gateway lookup",
		Long: `Without --transaction, sweeps every charge pending longer than --max-age,
exactly like one pass of the worker's sweeper.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uuid.UUID
			if transaction != "" {
				var err error
				if id, err = uuid.Parse(transaction); err != nil {
					return fmt.Errorf("invalid transaction id: %w", err)
				}
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				services, err := app.Services()
				if err != nil {
					return err
				}
				if id != uuid.Nil {
					res, err := services.Payments.ReconcileTransaction(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}

				if maxAge <= 0 {
					maxAge = app.Config.Worker.PendingMaxAge
				}
				report, err := services.Payments.ReconcilePending(ctx, maxAge, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&transaction, "transaction", "", "Local transaction id to reconcile")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Minimum age of pending charges to sweep (defaults to worker.pending_max_age)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum charges to sweep")
	return cmd
}

type requestReport struct {
	Request      *servicerequest.ServiceRequest `json:"request"`
	Transactions []transactionReport            `json:"transactions"`
}

type transactionReport struct {
	*payment.Transaction
	Events []*payment.Event `json:"events"`
}

func showRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-request [request-id]",
		Short: "Print a request with its ledger and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				repos := app.Repositories()
				sr, err := repos.Requests.GetByID(ctx, id)
				if err != nil {
					return err
				}
				txs, err := repos.Transactions.ListByRequest(ctx, id)
				if err != nil {
					return err
				}
				report := requestReport{Request: sr}
				for _, t := range txs {
					events, err := repos.Transactions.GetEvents(ctx, t.ID)
					if err != nil {
						return err
					}
					report.Transactions = append(report.Transactions, transactionReport{Transaction: t, Events: events})
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
