package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/modelrelay/config"
	"github.com/jonwraymond/modelrelay/engine"
)

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		params   []string
		noCache  bool
		asJSON   bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one prompt through the fallback chain",
		Long:  "Run one prompt through the fallback chain. The prompt is read from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			ctx := cmd.Context()
			app, err := config.Build(ctx, cfg, config.WithLogOutput(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("build relay: %w", err)
			}
			defer func() { _ = app.Close(context.Background()) }()

			resp, err := app.Engine.Do(ctx, engine.Request{Prompt: prompt, Params: parsed, NoCache: noCache})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			_, err = fmt.Fprintln(out, resp.Text)
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "model parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().StringVar(&logLevel, "log-level", "error", "log level for this run")
	return cmd
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

// parseParams turns key=value pairs into request params. Values that parse
// as numbers or booleans keep that type.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", pair)
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else {
			out[key] = value
		}
	}
	return out, nil
}
