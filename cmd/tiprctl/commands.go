package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tipr/internal/domain"
)

func newCallCmd(opts *cliOptions) *cobra.Command {
	var payloadArg string
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool and print its result payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := resolvePayload(payloadArg, payloadFile)
			if err != nil {
				return exitWithMessage(2, err.Error())
			}

			c, err := newClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout(opts))
			defer cancel()

			result, err := c.Call(ctx, args[0], payload)
			if err != nil {
				return callError(err)
			}
			return printResult(args[0], result, opts.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&payloadArg, "payload", "", "JSON payload (use - to read stdin)")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "file containing the JSON payload")
	return cmd
}

func newListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools registered on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout(opts))
			defer cancel()

			tools, err := c.ListTools(ctx)
			if err != nil {
				return callError(err)
			}
			return printTools(tools, opts.jsonOutput)
		},
	}
}

func newPingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe the daemon's control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout(opts))
			defer cancel()

			if err := c.Ping(ctx); err != nil {
				return callError(err)
			}
			if opts.jsonOutput {
				return writeJSON(map[string]bool{"ok": true})
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func resolvePayload(payloadArg, payloadFile string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case payloadFile != "":
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		raw = data
	case payloadArg == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		raw = data
	case payloadArg != "":
		raw = []byte(payloadArg)
	default:
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// callError maps protocol error codes onto distinct exit codes so scripts
// can branch on the failure class.
func callError(err error) error {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return err
	}
	exit := 1
	switch code {
	case domain.CodeProtocolError:
		exit = 2
	case domain.CodeToolNotFound:
		exit = 3
	case domain.CodeRateLimited:
		exit = 4
	case domain.CodeTimeout, domain.CodeCancelled:
		exit = 5
	case domain.CodeTransportError, domain.CodeConnectionLost:
		exit = 6
	}
	return exitWithMessage(exit, err.Error())
}
