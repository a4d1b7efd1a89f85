// Package serve runs the HTTP API.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fjacquet/txrules/cmd/root"
	"fjacquet/txrules/internal/api"
	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var addr string

// Cmd represents the serve command
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rule engine over HTTP",
	Long: `Serve exposes rule authoring, rule application, simulation, auto-learning,
application logs and automation settings as a JSON API. It stops gracefully
on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return root.Run(func(c *container.Container) error {
			listen := addr
			if listen == "" {
				listen = c.GetConfig().Server.Addr
			}
			return Serve(ctx, c, listen)
		})
	},
}

func init() {
	Cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
}

// Serve listens on listen until ctx is done, then shuts the server down.
func Serve(ctx context.Context, c *container.Container, listen string) error {
	logger := c.GetLogger()
	srv := &http.Server{
		Addr:              listen,
		Handler:           api.NewRouter(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", logging.F(logging.FieldAddr, listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
