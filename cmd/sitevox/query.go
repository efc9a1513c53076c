package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitevox/sitevox/config"
	srv "github.com/sitevox/sitevox/internal/server"
)

func queryCMD() *cobra.Command {
	var cfgPath string
	var agentID string
	var topK int
	var cmd = &cobra.Command{
		Use:   "query <question>",
		Short: "Query an agent's knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent is required")
			}
			cfg := config.LoadConfig(cfgPath)

			ctx := context.Background()
			rt, err := srv.BuildRuntime(ctx, cfg)
			if err != nil {
				return err
			}

			result, err := rt.Retriever.Retrieve(ctx, agentID, args[0], topK)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to query")
	cmd.Flags().IntVar(&topK, "top-k", 0, "max chunks to return (0 = config default)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
