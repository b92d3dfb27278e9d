package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/billing/api/billing/v1"
	"github.com/spf13/cobra"
)

func newUsageCommand(settings *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <user-id>",
		Short: "Show total, used and remaining tokens of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.TokenUsageResponse, error) {
				return client.GetTokenUsage(ctx, &billingv1.UserRequest{UserID: args[0]})
			})
		},
	}
}

func newAllocationCommand(settings *clientSettings) *cobra.Command {
	cmd := &cobra.Command{Use: "allocation", Short: "Manage token allocations"}

	grant := &billingv1.GrantAllocationRequest{}
	grantCommand := &cobra.Command{
		Use:   "grant",
		Short: "Grant tokens to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.AllocationResponse, error) {
				return client.GrantAllocation(ctx, grant)
			})
		},
	}
	grantCommand.Flags().StringVar(&grant.UserID, "user", "", "user id")
	grantCommand.Flags().StringVar(&grant.Source, "source", "admin_grant", "allocation source")
	grantCommand.Flags().Int64Var(&grant.Tokens, "tokens", 0, "tokens to grant")
	grantCommand.Flags().StringVar(&grant.ExpiresOn, "expires-on", "", "last valid day (YYYY-MM-DD); empty never expires")
	grantCommand.Flags().StringVar(&grant.GrantKey, "grant-key", "", "idempotency key")
	grantCommand.Flags().StringVar(&grant.InvoiceID, "invoice", "", "invoice id")

	freeDaily := &cobra.Command{
		Use:   "free-daily <user-id>",
		Short: "Ensure today's free allocation exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.AllocationResponse, error) {
				return client.EnsureFreeDaily(ctx, &billingv1.UserRequest{UserID: args[0]})
			})
		},
	}

	deallocate := &cobra.Command{
		Use:   "deallocate <user-id>",
		Short: "Deallocate every active allocation of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.CountResponse, error) {
				return client.DeallocateAllocations(ctx, &billingv1.UserRequest{UserID: args[0]})
			})
		},
	}

	renewal := &billingv1.RenewSubscriptionRequest{}
	renew := &cobra.Command{
		Use:   "renew",
		Short: "Replace active allocations with a purchased one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.AllocationResponse, error) {
				return client.RenewSubscription(ctx, renewal)
			})
		},
	}
	renew.Flags().StringVar(&renewal.UserID, "user", "", "user id")
	renew.Flags().Int64Var(&renewal.Tokens, "tokens", 0, "purchased tokens")
	renew.Flags().StringVar(&renewal.ExpiresOn, "expires-on", "", "last valid day (YYYY-MM-DD)")
	renew.Flags().StringVar(&renewal.InvoiceID, "invoice", "", "invoice id")

	invoice := &billingv1.ApplyInvoiceRequest{}
	applyInvoice := &cobra.Command{
		Use:   "invoice",
		Short: "Fund a paid invoice from the mirrored subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.AllocationResponse, error) {
				return client.ApplyInvoice(ctx, invoice)
			})
		},
	}
	applyInvoice.Flags().StringVar(&invoice.UserID, "user", "", "user id")
	applyInvoice.Flags().StringVar(&invoice.InvoiceID, "invoice", "", "invoice id")

	cmd.AddCommand(grantCommand, freeDaily, deallocate, renew, applyInvoice)
	return cmd
}

func newSubscriptionCommand(settings *clientSettings) *cobra.Command {
	subscription := &billingv1.Subscription{}
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Record the gateway state of a user's subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.RecordSubscriptionResponse, error) {
				return client.RecordSubscription(ctx, subscription)
			})
		},
	}
	cmd.Flags().StringVar(&subscription.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&subscription.ExternalID, "external-id", "", "gateway subscription id")
	cmd.Flags().StringVar(&subscription.Status, "status", "", "gateway status")
	cmd.Flags().StringVar(&subscription.Interval, "interval", "", "daily, weekly, monthly or yearly")
	cmd.Flags().Int64Var(&subscription.PlanTokens, "plan-tokens", 0, "tokens per billing period")
	cmd.Flags().StringVar(&subscription.CurrentStart, "current-start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&subscription.CurrentEnd, "current-end", "", "period end (YYYY-MM-DD)")
	return cmd
}

func newAccountCommand(settings *clientSettings) *cobra.Command {
	var inactive bool
	cmd := &cobra.Command{
		Use:   "account <user-id>",
		Short: "Register a billable user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.Empty, error) {
				return client.RegisterAccount(ctx, &billingv1.RegisterAccountRequest{UserID: args[0], IsActive: !inactive})
			})
		},
	}
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register the account as inactive")
	return cmd
}

func newOrganizationCommand(settings *clientSettings) *cobra.Command {
	var metadata []string
	cmd := &cobra.Command{
		Use:   "organization <organization-id>",
		Short: "Record an organization and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.Empty, error) {
				return client.RecordOrganization(ctx, &billingv1.OrganizationRequest{OrganizationID: args[0], Metadata: parsed})
			})
		},
	}
	cmd.Flags().StringSliceVar(&metadata, "metadata", nil, "key=value metadata entries")
	return cmd
}

func parseMetadata(entries []string) (map[string]any, error) {
	metadata := make(map[string]any, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("metadata entry %q must be key=value", entry)
		}
		metadata[key] = strings.TrimSpace(value)
	}
	return metadata, nil
}

func newWalletCommand(settings *clientSettings) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Manage pay-as-you-go wallets"}
	owner := &billingv1.WalletRequest{}
	cmd.PersistentFlags().StringVar(&owner.UserID, "user", "", "user id")
	cmd.PersistentFlags().StringVar(&owner.OrganizationID, "organization", "", "organization id")

	open := &cobra.Command{
		Use:   "open",
		Short: "Open the wallet of a user within an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.Wallet, error) {
				return client.OpenWallet(ctx, owner)
			})
		},
	}
	open.Flags().StringVar(&owner.Currency, "currency", "", "ISO currency; empty selects the server default")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.Wallet, error) {
				return client.GetWallet(ctx, owner)
			})
		},
	}

	var amount, description string
	deposit := &cobra.Command{
		Use:   "deposit",
		Short: "Credit a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.WalletTransaction, error) {
				return client.Deposit(ctx, &billingv1.DepositRequest{
					UserID:         owner.UserID,
					OrganizationID: owner.OrganizationID,
					Amount:         amount,
					Description:    description,
				})
			})
		},
	}
	deposit.Flags().StringVar(&amount, "amount", "", "decimal amount")
	deposit.Flags().StringVar(&description, "description", "", "ledger description")

	listing := &billingv1.ListWalletTransactionsRequest{}
	transactions := &cobra.Command{
		Use:   "transactions <wallet-id>",
		Short: "List wallet transactions newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listing.WalletID = args[0]
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.ListWalletTransactionsResponse, error) {
				return client.ListWalletTransactions(ctx, listing)
			})
		},
	}
	transactions.Flags().StringVar(&listing.BeforeID, "before", "", "exclusive transaction id cursor")
	transactions.Flags().Int32Var(&listing.Limit, "limit", 0, "page size")

	cmd.AddCommand(open, show, deposit, transactions)
	return cmd
}

func newPricingCommand(settings *clientSettings) *cobra.Command {
	cmd := &cobra.Command{Use: "pricing", Short: "Manage platform pricing"}

	plan := &billingv1.PricingPlan{}
	var inactive bool
	savePlan := &cobra.Command{
		Use:   "plan",
		Short: "Create or update a pricing plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan.IsActive = !inactive
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.PricingPlan, error) {
				return client.SavePricingPlan(ctx, plan)
			})
		},
	}
	savePlan.Flags().StringVar(&plan.PlanID, "id", "", "plan id; empty creates a plan")
	savePlan.Flags().StringVar(&plan.Name, "name", "", "plan name")
	savePlan.Flags().StringVar(&plan.DefaultInputPrice, "input-price", "0", "input price per token")
	savePlan.Flags().StringVar(&plan.DefaultOutputPrice, "output-price", "0", "output price per token")
	savePlan.Flags().BoolVar(&inactive, "inactive", false, "mark the plan inactive")

	var userID, planID, customInput, customOutput string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Bind a user to a pricing plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			request := &billingv1.AssignUserPricingRequest{UserID: userID, PlanID: planID}
			if cmd.Flags().Changed("custom-input-price") {
				request.CustomInputPrice = &customInput
			}
			if cmd.Flags().Changed("custom-output-price") {
				request.CustomOutputPrice = &customOutput
			}
			return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.Empty, error) {
				return client.AssignUserPricing(ctx, request)
			})
		},
	}
	assign.Flags().StringVar(&userID, "user", "", "user id")
	assign.Flags().StringVar(&planID, "plan", "", "plan id")
	assign.Flags().StringVar(&customInput, "custom-input-price", "", "override of the plan input price")
	assign.Flags().StringVar(&customOutput, "custom-output-price", "", "override of the plan output price")

	cmd.AddCommand(savePlan, assign)
	return cmd
}

func newJobsCommand(settings *clientSettings) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Trigger periodic grant jobs"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "daily-free",
			Short: "Grant today's free allocation to every eligible account",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.CountResponse, error) {
					return client.RunDailyFreeGrants(ctx, &billingv1.Empty{})
				})
			},
		},
		&cobra.Command{
			Use:   "annual-refresh",
			Short: "Fund this month of yearly subscriptions",
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, settings, func(ctx context.Context, client *billingv1.BillingServiceClient) (*billingv1.CountResponse, error) {
					return client.RefreshAnnualAllocations(ctx, &billingv1.Empty{})
				})
			},
		},
	)
	return cmd
}
