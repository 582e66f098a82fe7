package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// researchCMD runs a single research query end to end and prints the
// synthesized markdown, without starting the HTTP server.
func researchCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query must not be empty")
			}
			cfg := config.LoadConfig(cfgPath)

			logger := log.New(os.Stderr, "[CLI] ", log.LstdFlags)
			tele := telemetry.New(cfg.Telemetry)
			registry := research.NewRegistry(log.New(os.Stderr, "[REGISTRY] ", log.LstdFlags), tele)
			executor, err := agent.NewExecutor(cfg, log.New(os.Stderr, "[AGENT] ", log.LstdFlags))
			if err != nil {
				return err
			}
			pipeline := research.NewPipeline(cfg, log.New(os.Stderr, "[PIPELINE] ", log.LstdFlags), registry, executor, tele)

			id := registry.Create(query)
			logger.Printf("running research session %s", id)
			pipeline.Run(context.Background(), id)

			sess, ok := registry.Get(id)
			if !ok {
				return fmt.Errorf("session %s disappeared", id)
			}
			if sess.Status == research.StatusError {
				return fmt.Errorf("research failed, see agent states for details")
			}
			fmt.Println(sess.Result)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
