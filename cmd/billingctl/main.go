package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/billing/api/billing/v1"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	envPrefix = "BILLINGCTL"

	flagAddr    = "addr"
	flagTimeout = "timeout"

	defaultAddr    = "localhost:7000"
	defaultTimeout = 10 * time.Second
)

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "billingctl: %v\n", err)
		os.Exit(1)
	}
}

type clientSettings struct {
	addr    string
	timeout time.Duration
}

func newRootCommand(output io.Writer) *cobra.Command {
	settings := &clientSettings{}
	cmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate a billingd server over gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadSettings(cmd, settings)
		},
	}
	cmd.SetOut(output)
	cmd.PersistentFlags().String(flagAddr, defaultAddr, "billingd gRPC address")
	cmd.PersistentFlags().Duration(flagTimeout, defaultTimeout, "per-call timeout")

	cmd.AddCommand(
		newUsageCommand(settings),
		newAllocationCommand(settings),
		newSubscriptionCommand(settings),
		newAccountCommand(settings),
		newOrganizationCommand(settings),
		newWalletCommand(settings),
		newPricingCommand(settings),
		newJobsCommand(settings),
	)
	return cmd
}

func loadSettings(cmd *cobra.Command, settings *clientSettings) error {
	configuration := viper.New()
	configuration.SetEnvPrefix(envPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()
	if err := configuration.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	settings.addr = strings.TrimSpace(configuration.GetString(flagAddr))
	settings.timeout = configuration.GetDuration(flagTimeout)
	if settings.addr == "" {
		return fmt.Errorf("billingd address is required")
	}
	if settings.timeout <= 0 {
		settings.timeout = defaultTimeout
	}
	return nil
}

// call dials billingd, runs one RPC and prints its response as JSON.
func call[Response any](cmd *cobra.Command, settings *clientSettings, invoke func(ctx context.Context, client *billingv1.BillingServiceClient) (*Response, error)) error {
	conn, err := grpc.NewClient(settings.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect billingd: %w", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), settings.timeout)
	defer cancel()
	response, err := invoke(ctx, billingv1.NewBillingServiceClient(conn))
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
