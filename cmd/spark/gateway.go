package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/m4xw311/spark/bus"
	"github.com/m4xw311/spark/channels"
	"github.com/m4xw311/spark/errors"
)

func newGatewayCmd(g *globalFlags) *cobra.Command {
	var (
		f      agentFlags
		addr   string
		buffer int
	)
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve websocket chats through the message bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg, os.Stderr)
			// Nobody can answer approval prompts here.
			f.approval = "auto"

			a, cleanup, err := buildAgent(cmd.Context(), cfg, f, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			b := bus.New(buffer, logger)
			mux := http.NewServeMux()
			mux.Handle("/ws", channels.NewWebSocket(b, logger))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errc := make(chan error, 3)
			go func() { errc <- a.Run(ctx, b) }()
			go func() { errc <- b.DispatchOutbound(ctx) }()
			go func() {
				logger.Info("gateway listening", "addr", addr, "path", "/ws")
				errc <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err = <-errc:
			}
			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("gateway shutdown", "error", serr)
			}
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&buffer, "buffer", bus.DefaultBuffer, "message bus queue size")
	cmd.Flags().StringVar(&f.mode, "mode", "", "execution mode: function_calling, code_act or auto")
	cmd.Flags().StringVarP(&f.toolset, "toolset", "t", "", "toolset to use (default: 'default')")
	return cmd
}
