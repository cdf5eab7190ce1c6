package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getmentor/airtable-connector/config"
	"github.com/getmentor/airtable-connector/internal/cache"
	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/poller"
	"github.com/getmentor/airtable-connector/internal/repository"
	"github.com/getmentor/airtable-connector/internal/services"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/getmentor/airtable-connector/pkg/jwt"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the settings shared by every subcommand
type cli struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}
	v := c.v

	v.SetDefault("base_url", airtable.DefaultBaseURL)
	v.SetDefault("auth_type", string(airtable.AuthPAT))
	v.SetDefault("timeout_ms", 10000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_base_delay_ms", 1000)
	v.SetDefault("log_level", "")

	// Same variable names as the server
	_ = v.BindEnv("base_url", "AIRTABLE_BASE_URL")
	_ = v.BindEnv("auth_type", "AIRTABLE_AUTH_TYPE")
	_ = v.BindEnv("access_token", "AIRTABLE_ACCESS_TOKEN")
	_ = v.BindEnv("api_key", "AIRTABLE_API_KEY")
	_ = v.BindEnv("timeout_ms", "AIRTABLE_TIMEOUT_MS")
	_ = v.BindEnv("max_retries", "AIRTABLE_MAX_RETRIES")
	_ = v.BindEnv("retry_base_delay_ms", "AIRTABLE_RETRY_BASE_DELAY_MS")
	_ = v.BindEnv("jwt_secret", "HOST_JWT_SECRET")
	_ = v.BindEnv("jwt_issuer", "HOST_JWT_ISSUER")

	root := &cobra.Command{
		Use:           "airtable-cli",
		Short:         "Call Airtable through the connector's executor and operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := v.GetString("log_level")
			if level == "" {
				return nil
			}
			return logger.Initialize(logger.Config{Level: level, Environment: "development"})
		},
	}

	flags := root.PersistentFlags()
	flags.String("base-url", v.GetString("base_url"), "Airtable API root")
	flags.String("auth-type", v.GetString("auth_type"), "pat or apiKey")
	flags.String("access-token", "", "personal access token (AIRTABLE_ACCESS_TOKEN)")
	flags.String("api-key", "", "legacy API key (AIRTABLE_API_KEY)")
	flags.Int("max-retries", v.GetInt("max_retries"), "retries after HTTP 429")
	flags.String("log-level", "", "enable logging at this level (logs go to stdout)")
	_ = v.BindPFlag("base_url", flags.Lookup("base-url"))
	_ = v.BindPFlag("auth_type", flags.Lookup("auth-type"))
	_ = v.BindPFlag("access_token", flags.Lookup("access-token"))
	_ = v.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = v.BindPFlag("max_retries", flags.Lookup("max-retries"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	root.AddCommand(c.execCmd(), c.basesCmd(), c.credentialsCmd(), c.pollCmd(), c.tokenCmd())
	return root
}

func (c *cli) airtableConfig() config.AirtableConfig {
	return config.AirtableConfig{
		BaseURL:          c.v.GetString("base_url"),
		AuthType:         c.v.GetString("auth_type"),
		AccessToken:      c.v.GetString("access_token"),
		APIKey:           c.v.GetString("api_key"),
		TimeoutMS:        c.v.GetInt("timeout_ms"),
		MaxRetries:       c.v.GetInt("max_retries"),
		RetryBaseDelayMS: c.v.GetInt("retry_base_delay_ms"),
	}
}

func (c *cli) repository() *repository.AirtableRepository {
	cfg := c.airtableConfig()
	return repository.NewAirtableRepository(airtable.NewExecutorFrom(cfg), airtable.ClientConfigFrom(cfg), cache.NewMetaCache(0))
}

func (c *cli) credentials() services.CredentialSource {
	return services.FallbackCredentials{Default: airtable.DefaultCredentialsFrom(c.airtableConfig())}
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) execute(ctx context.Context, inv services.Invocation) error {
	repo := c.repository()
	items, err := services.NewOperationService(repo, repo).Execute(ctx, inv)
	if err != nil {
		return err
	}
	return c.printJSON(items)
}

func (c *cli) execCmd() *cobra.Command {
	var params, items string
	var continueOnFail bool

	cmd := &cobra.Command{
		Use:   "exec RESOURCE OPERATION",
		Short: "Run one operation, e.g. exec record list --params '{\"baseId\":\"app...\",\"table\":\"Tasks\"}'",
		Long:  "Supported operations: " + strings.Join(services.SupportedOperations(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var values map[string]any
			if err := json.Unmarshal([]byte(params), &values); err != nil {
				return fmt.Errorf("--params must be a JSON object: %w", err)
			}
			var input []models.Item
			if items != "" {
				if err := json.Unmarshal([]byte(items), &input); err != nil {
					return fmt.Errorf("--items must be a JSON array of objects: %w", err)
				}
			}

			return c.execute(cmd.Context(), services.Invocation{
				Resource:       args[0],
				Operation:      args[1],
				Parameters:     services.NewMapParameters(values, input),
				Credentials:    c.credentials(),
				Items:          input,
				ContinueOnFail: continueOnFail,
			})
		},
	}

	cmd.Flags().StringVar(&params, "params", "{}", "operation parameters as a JSON object")
	cmd.Flags().StringVar(&items, "items", "", "input items as a JSON array; parameters may reference {{json.field}}")
	cmd.Flags().BoolVar(&continueOnFail, "continue-on-fail", false, "report failed items instead of stopping")
	return cmd
}

func (c *cli) basesCmd() *cobra.Command {
	bases := &cobra.Command{
		Use:   "bases",
		Short: "Inspect bases visible to the credentials",
	}

	bases.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), services.Invocation{
				Resource:    "base",
				Operation:   "list",
				Parameters:  services.NewMapParameters(nil, nil),
				Credentials: c.credentials(),
			})
		},
	})

	bases.AddCommand(&cobra.Command{
		Use:   "schema BASE_ID",
		Short: "List the tables of a base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context(), services.Invocation{
				Resource:    "table",
				Operation:   "list",
				Parameters:  services.NewMapParameters(map[string]any{"baseId": args[0]}, nil),
				Credentials: c.credentials(),
			})
		},
	})

	return bases
}

func (c *cli) credentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-credentials",
		Short: "Check the configured token against Airtable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials().Credentials(cmd.Context())
			if err != nil {
				return err
			}
			resp := services.NewCredentialService(c.repository()).Test(cmd.Context(), creds)
			if err := c.printJSON(resp); err != nil {
				return err
			}
			if resp.Status != services.CredentialStatusOK {
				return fmt.Errorf("credential test failed")
			}
			return nil
		},
	}
}

func (c *cli) pollCmd() *cobra.Command {
	var baseID, table, filter string
	var interval int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Watch a table and print each new record as a JSON line until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			creds, err := c.credentials().Credentials(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.out)
			p := poller.New(poller.Config{
				BaseID:          baseID,
				Table:           table,
				FilterFormula:   filter,
				IntervalSeconds: interval,
			}, c.repository().Lister(creds), poller.EmitterFunc(func(_ context.Context, batch poller.Batch) error {
				for _, record := range batch.Records {
					if err := enc.Encode(record); err != nil {
						return err
					}
				}
				return nil
			}), poller.WithID("cli"))

			handle := p.Start(ctx)
			<-ctx.Done()
			handle.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&baseID, "base", "", "base ID")
	cmd.Flags().StringVar(&table, "table", "", "table name or ID")
	cmd.Flags().StringVar(&filter, "filter", "", "filterByFormula applied to every poll")
	cmd.Flags().IntVar(&interval, "interval", 60, "poll interval in seconds (at least 30)")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var subject, workspace string
	var ttl time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a host JWT signed with HOST_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.v.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("HOST_JWT_SECRET is not set")
			}
			issuer := c.v.GetString("jwt_issuer")
			if issuer == "" {
				issuer = "airtable-connector"
			}

			tokens := jwt.NewTokenManager(secret, issuer, ttl)
			token, err := tokens.GenerateToken(subject, workspace)
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(map[string]any{
					"token":            token,
					"expiresInSeconds": int64(tokens.GetExpirationTime().Seconds()),
				})
			}
			_, err = fmt.Fprintln(c.out, token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "host identity recorded in the token")
	cmd.Flags().StringVar(&workspace, "workspace", "", "optional host workspace")
	cmd.Flags().DurationVar(&ttl, "ttl", 720*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the token and its lifetime as JSON")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
