package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/server"
	"github.com/ppiankov/trustgate/internal/store"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "Listen address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trustgate API server",
	Long: "Runs the gate, outcome collector, policy store, and trust evaluator\n" +
		"behind a JSON HTTP API. Tenant policy files in the policy directory\n" +
		"hot-reload on change; the evaluator sweeps all tenants on a schedule.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := serviceCfg
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down")
		cancel()
	}()

	// Policy hot-reload.
	watcher := store.NewWatcher(st.store)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("policy watcher stopped", "err", err)
		}
	}()

	// Scheduled trust evaluation sweep.
	go st.evaluator.Run(ctx, cfg.Interval(), cfg.EvalWorkers)

	// Sample retention.
	go st.collector.RunRetention(ctx.Done(), time.Hour, cfg.Retention())

	srv := server.New(server.Config{Addr: cfg.ListenAddr}, st.store, st.gate, st.collector, st.evaluator, st.ledger)
	return srv.Start(ctx)
}
