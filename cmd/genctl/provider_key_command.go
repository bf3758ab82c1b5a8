package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
)

var providerKeyEnv = map[string]string{
	credentials.ProviderTaskAPI:   "TASKAPI_API_KEY",
	credentials.ProviderDashScope: "DASHSCOPE_API_KEY",
}

func newProviderKeyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider-key",
		Short: "Manage provider API keys stored in the database",
	}
	cmd.AddCommand(newProviderKeySetCommand(ctx))
	cmd.AddCommand(newProviderKeyListCommand(ctx))
	cmd.AddCommand(newProviderKeyDeleteCommand(ctx))
	return cmd
}

func newProviderKeySetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store the API key of a provider (" + strings.Join(credentials.KnownProviders, ", ") + ")",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, envKey, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 2 {
				key = strings.TrimSpace(args[1])
			}
			if key == "" {
				key = strings.TrimSpace(os.Getenv(envKey))
			}
			if key == "" {
				return fmt.Errorf("%s API key is required as an argument or via %s", provider, envKey)
			}
			return withCredentials(cmd, ctx, func(runCtx context.Context, store *credentials.Store) error {
				if err := store.SetToken(runCtx, provider, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s API key stored\n", provider)
				return nil
			})
		},
	}
}

func newProviderKeyListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredentials(cmd, ctx, func(runCtx context.Context, store *credentials.Store) error {
				providers, err := store.Providers(runCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(providers) == 0 {
					fmt.Fprintln(out, "no provider keys stored")
					return nil
				}
				for _, p := range providers {
					line := p
					if env := providerKeyEnv[p]; env != "" && os.Getenv(env) != "" {
						line += " (overridden by " + env + ")"
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func newProviderKeyDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove the stored API key of a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			return withCredentials(cmd, ctx, func(runCtx context.Context, store *credentials.Store) error {
				removed, err := store.Delete(runCtx, provider)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "no %s API key stored\n", provider)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s API key removed\n", provider)
				return nil
			})
		},
	}
}

func parseProvider(raw string) (string, string, error) {
	provider := strings.ToLower(strings.TrimSpace(raw))
	envKey, ok := providerKeyEnv[provider]
	if !ok {
		return "", "", fmt.Errorf("unsupported provider %q", raw)
	}
	return provider, envKey, nil
}

// withCredentials opens a short-lived pool for one credentials operation.
func withCredentials(cmd *cobra.Command, ctx *commandContext, fn func(context.Context, *credentials.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	runCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	pool, err := infra.NewDBPool(runCtx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(runCtx, credentials.NewStore(infra.NewSQLRunner(pool, ctx.logger(cmd.ErrOrStderr()))))
}
