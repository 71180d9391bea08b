package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kevinxiao27/textcrdt/crdt"
	"github.com/kevinxiao27/textcrdt/internal/config"
	"github.com/kevinxiao27/textcrdt/internal/server"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "textcrdt-server",
		Short:        "Serve local inserts into a text CRDT over HTTP and websocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level, err := cfg.SlogLevel()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			srv := server.New(crdt.New(cfg.StateOptions(logger)...), logger)

			logger.Info("API server starting", slog.String("addr", cfg.Server.Addr))
			logger.Info("WebSocket feed", slog.String("url", fmt.Sprintf("ws://%s/ws", cfg.Server.Addr)))
			return http.ListenAndServe(cfg.Server.Addr, srv.Routes())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
