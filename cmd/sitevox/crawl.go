package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitevox/sitevox/config"
	srv "github.com/sitevox/sitevox/internal/server"
)

func crawlCMD() *cobra.Command {
	var cfgPath string
	var agentID string
	var pageCap int
	var refresh bool
	var cmd = &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl a website and build the agent's knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent is required")
			}
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := srv.BuildRuntime(ctx, cfg)
			if err != nil {
				return err
			}

			if refresh {
				return rt.Pipeline.RunRefresh(ctx, agentID, args[0], pageCap)
			}
			return rt.Pipeline.RunCrawl(ctx, agentID, args[0], pageCap)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to crawl for")
	cmd.Flags().IntVar(&pageCap, "page-cap", 0, "max pages to crawl (0 = config default)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "keep existing pages and skip unchanged content")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
