package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"genstudio/internal/generation"
)

type normalizedOutput struct {
	Status  string   `json:"status"`
	Outcome string   `json:"outcome"`
	URLs    []string `json:"urls"`
	Error   string   `json:"error,omitempty"`
}

func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <file|->",
		Short: "Show how a raw provider status payload is interpreted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			n, err := generation.DefaultNormalizer().NormalizeJSON(data)
			if err != nil {
				return err
			}
			out := normalizedOutput{Status: n.Status, Outcome: n.Outcome.String(), URLs: n.URLs, Error: n.Error}
			if out.URLs == nil {
				out.URLs = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
