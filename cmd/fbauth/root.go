package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-fbauth/config"
	"github.com/AmmannChristian/go-fbauth/facebook"
	"github.com/AmmannChristian/go-fbauth/httpclient"
	"github.com/AmmannChristian/go-fbauth/internal/logger"
)

// app carries state shared by all subcommands of one invocation.
type app struct {
	out io.Writer

	configPath  string
	metricsAddr string

	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *http.Server
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "fbauth",
		Short: "Exchange and extend Facebook access tokens",
		Long: `fbauth talks to the Facebook Graph token endpoint through a pooled,
proxy-aware HTTP transport. Configuration comes from an optional file and
FBAUTH_* environment variables.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup() },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	root.AddCommand(
		a.authorizeURLCmd(),
		a.exchangeCmd(),
		a.extendCmd(),
		a.appTokenCmd(),
		a.poolStatsCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return err
	}
	a.log = log
	a.registry = prometheus.NewRegistry()

	addr := a.metricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Address
	}
	if addr != "" {
		return a.serveMetrics(addr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics address: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("address", ln.Addr().String()), zap.String("path", a.cfg.Metrics.Path))
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.metrics.Shutdown(ctx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

// httpClient builds the outbound client. The caller closes it.
func (a *app) httpClient() (*httpclient.Client, error) {
	return a.cfg.HTTP.Builder().
		WithLogger(a.log).
		WithRegisterer(a.registry, a.cfg.Metrics.Namespace).
		Build()
}

// facebookClient builds a token client on top of a fresh HTTP client. Closing
// the returned HTTP client releases both.
func (a *app) facebookClient() (*facebook.Client, *httpclient.Client, error) {
	fc := a.cfg.Facebook
	if fc.ClientID == "" || fc.ClientSecret == "" {
		return nil, nil, errors.New("facebook.clientId and facebook.clientSecret are required")
	}

	hc, err := a.httpClient()
	if err != nil {
		return nil, nil, err
	}

	fb, err := facebook.NewClient(fc.ClientID, fc.ClientSecret,
		facebook.WithHTTPClient(hc.Client),
		facebook.WithEndpoint(oauth2.Endpoint{AuthURL: fc.AuthorizeURL, TokenURL: fc.TokenURL}),
		facebook.WithRedirectURL(fc.RedirectURL),
		facebook.WithLogger(a.log),
	)
	if err != nil {
		_ = hc.Close()
		return nil, nil, err
	}
	return fb, hc, nil
}
