package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/client"
	"tipr/internal/infra/transport"
)

type cliOptions struct {
	endpoint       string
	execCommand    []string
	headers        []string
	timeoutSeconds int
	maxAttempts    int
	jsonOutput     bool
	logger         *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		endpoint:       domain.DefaultClientEndpoint + "/rpc",
		timeoutSeconds: domain.DefaultCallTimeoutSeconds,
		maxAttempts:    domain.DefaultRetryMaxAttempts,
		logger:         zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "tiprctl",
		Short: "CLI client for the tipr invocation daemon",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateRootFlags(cmd.Flags(), &opts)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", opts.endpoint, "daemon invocation endpoint URL")
	root.PersistentFlags().StringArrayVar(&opts.execCommand, "exec", nil, "spawn a daemon subprocess over stdio instead of dialing the endpoint (repeatable: command, then args)")
	root.PersistentFlags().StringArrayVar(&opts.headers, "header", nil, "extra request header key=value (repeatable)")
	root.PersistentFlags().IntVar(&opts.timeoutSeconds, "timeout", opts.timeoutSeconds, "per-call timeout in seconds")
	root.PersistentFlags().IntVar(&opts.maxAttempts, "retries", opts.maxAttempts, "maximum call attempts for transient failures")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newCallCmd(&opts),
		newListCmd(&opts),
		newPingCmd(&opts),
	)

	return root
}

func newClient(opts *cliOptions) (*client.Client, error) {
	dialer, err := newDialer(opts)
	if err != nil {
		return nil, err
	}
	return client.New(client.Options{
		Dialer: dialer,
		Config: domain.ClientConfig{
			Endpoint:           opts.endpoint,
			CallTimeoutSeconds: opts.timeoutSeconds,
		},
		Retry:  domain.RetryPolicy{MaxAttempts: opts.maxAttempts},
		Logger: opts.logger,
	}), nil
}

func newDialer(opts *cliOptions) (domain.Dialer, error) {
	if len(opts.execCommand) > 0 {
		return transport.NewStdioDialer(transport.StdioDialerOptions{
			Command: opts.execCommand,
			Logger:  opts.logger,
		})
	}
	headers, err := parseHeaderFlags(opts.headers)
	if err != nil {
		return nil, err
	}
	return transport.NewHTTPDialer(transport.HTTPDialerOptions{
		Endpoint: opts.endpoint,
		Headers:  headers,
	})
}

func validateRootFlags(flags *pflag.FlagSet, opts *cliOptions) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "timeout":
			if opts.timeoutSeconds < 1 {
				err = fmt.Errorf("--timeout must be at least 1 second")
			}
		case "retries":
			if opts.maxAttempts < 1 {
				err = fmt.Errorf("--retries must be at least 1")
			}
		}
	})
	return err
}

func parseHeaderFlags(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, entry := range raw {
		key, value, found := strings.Cut(entry, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --header %q, expected key=value", entry)
		}
		headers[strings.TrimSpace(key)] = value
	}
	return headers, nil
}

func callTimeout(opts *cliOptions) time.Duration {
	return domain.ClientConfig{CallTimeoutSeconds: opts.timeoutSeconds}.CallTimeout()
}
