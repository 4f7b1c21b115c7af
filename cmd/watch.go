package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/classmig/formatter"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/migrate"
)

var metricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [dirs...]",
	Short: "Verify plugin archives again whenever they change",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := assemble()
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			srv := serveMetrics(c, metricsAddr)
			defer srv.Close()
		}
		return runWatch(ctx, cmd.OutOrStdout(), c, args)
	},
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func runWatch(ctx context.Context, out io.Writer, c *migrate.Components, dirs []string) error {
	var mu sync.Mutex
	report := func(path string, v tt.Verdict) {
		r, _ := migrate.VerifyPlugin(constVerdict(v), path)
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(out, formatter.GenerateFormattedReport([]migrate.Report{r}))
	}

	if err := c.Engine.StartWatching(report, dirs...); err != nil {
		return err
	}
	logger.Info("watching for plugin changes", zap.Strings("dirs", dirs))
	<-ctx.Done()
	return c.Engine.StopWatching()
}

// constVerdict replays a verdict the watcher already computed.
type constVerdict tt.Verdict

func (v constVerdict) Verify(string) tt.Verdict { return tt.Verdict(v) }

func (v constVerdict) Resolve(string) (tt.Verdict, string, error) {
	return tt.Verdict(v), "", errors.New("resolve is not available while watching")
}

func serveMetrics(c *migrate.Components, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}
