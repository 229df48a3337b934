package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
	"github.com/polzovatel/browser-captcha-solver/internal/metrics"
	"github.com/polzovatel/browser-captcha-solver/internal/provider"
)

type cliOptions struct {
	url         string
	provider    string
	configPath  string
	backend     string
	metricsAddr string
	maxAttempts int
	settle      time.Duration
	verbose     bool
}

// solvingSession is a browser page the CLI can open a URL in and solve on.
type solvingSession interface {
	browser.Session
	browser.Navigator
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()
	if opts.url == "" {
		fmt.Fprintln(os.Stderr, "usage: captchasolver -url <page> [-provider owl|recaptcha|cloudflare]")
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = cfg.MaxAttempts
	}
	if opts.backend != "" {
		cfg.Browser.Backend = strings.ToLower(opts.backend)
	}

	hint := captcha.ProviderUnknown
	if opts.provider != "" {
		kind, ok := captcha.ParseProviderKind(opts.provider)
		if !ok {
			log.Fatal().Str("provider", opts.provider).Msg("unknown provider")
		}
		hint = kind
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.DefaultNamespace, registry)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client, err := llm.NewClientWithLogger(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}
	vision := llm.NewVision(client, log.With().Str("comp", "vision").Logger())

	session, closeSession, err := openSession(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer closeSession()

	if err := session.Navigate(ctx, opts.url); err != nil {
		log.Error().Err(err).Str("url", opts.url).Msg("navigate")
		return
	}
	if opts.settle > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.settle):
		}
	}

	solver := provider.NewRegistry(provider.Options{
		Config:  cfg,
		Logger:  log.Logger,
		Metrics: collector,
	})
	cls := captcha.Classification{Type: captcha.ChallengeImageSelection, Provider: hint}
	res := solver.Solve(ctx, session, cls, vision, opts.maxAttempts)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("encode result")
		return
	}
	fmt.Println(string(out))
	if !res.Success {
		log.Warn().Str("error", res.Error).Msg("captcha not solved")
	}
}

func parseFlags() cliOptions {
	url := flag.String("url", "", "Page with the captcha")
	prov := flag.String("provider", "", "Provider hint: owl, recaptcha or cloudflare")
	cfgPath := flag.String("config", "", "Path to YAML config")
	backend := flag.String("browser", "", "Browser backend: playwright or chromedp")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	maxAttempts := flag.Int("max-attempts", 0, "Attempt budget (unset uses the config value)")
	settle := flag.Duration("settle", 2*time.Second, "Wait after navigation before solving")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()
	return cliOptions{
		url:         strings.TrimSpace(*url),
		provider:    strings.TrimSpace(*prov),
		configPath:  strings.TrimSpace(*cfgPath),
		backend:     strings.TrimSpace(*backend),
		metricsAddr: strings.TrimSpace(*metricsAddr),
		maxAttempts: *maxAttempts,
		settle:      *settle,
		verbose:     *verbose,
	}
}

func openSession(ctx context.Context, cfg config.Config) (solvingSession, func(), error) {
	logger := log.With().Str("comp", "browser").Logger()
	switch cfg.Browser.Backend {
	case config.BackendChromedp:
		s, err := browser.NewChromeSession(cfg.Browser.Headless, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close(context.Background()) }, nil
	default:
		launcher, err := browser.NewLauncher(ctx, cfg.Browser.Headless)
		if err != nil {
			return nil, nil, err
		}
		s, err := launcher.NewSession(ctx, logger)
		if err != nil {
			_ = launcher.Close()
			return nil, nil, err
		}
		return s, func() {
			_ = s.Close(context.Background())
			_ = launcher.Close()
		}, nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
