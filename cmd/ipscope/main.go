package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bethel-nz/ipscope/internal/config"
	"github.com/bethel-nz/ipscope/internal/logger"
	"github.com/bethel-nz/ipscope/internal/proxy"
	"github.com/quic-go/quic-go/http3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		log.Printf("ignoring env file: %v", err)
	}

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(logger.Options{Level: cfg.Log.Level, Outputs: cfg.Log.Outputs})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var client proxy.UpstreamClient = proxy.NewUpstreamClient(cfg.Upstream.Timeout)
	if cfg.Upstream.Breaker.Enabled {
		client = proxy.WithCircuitBreaker(client, cfg.Upstream.Breaker.Timeout, cfg.Upstream.Breaker.MaxFailures)
	}

	metrics := proxy.NewMetrics()
	router := proxy.NewRouter(logger, client, proxy.Options{
		Routes: proxy.DefaultRoutes(
			proxy.Upstream{Name: "ipapi", URL: cfg.Upstream.IPAPI.URL, Query: "q", Param: cfg.Upstream.IPAPI.Param},
			proxy.Upstream{Name: "cf-trace", URL: cfg.Upstream.CFTrace.URL},
		),
		CORS: proxy.CORSPolicy{
			MaxAge:              cfg.CORS.MaxAge,
			TrustForwardedProto: cfg.CORS.TrustForwardedProto,
		},
		Metrics:   metrics,
		UserAgent: cfg.Upstream.UserAgent,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, router, metrics); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type closer func(ctx context.Context) error

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, router http.Handler, metrics *proxy.Metrics) error {
	g, ctx := errgroup.WithContext(ctx)
	var closers []closer

	opsServer := &http.Server{
		Addr:              cfg.Server.Ops,
		Handler:           proxy.NewOpsMux(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	closers = append(closers, opsServer.Shutdown)
	g.Go(func() error {
		logger.Info("starting ops server", zap.String("addr", cfg.Server.Ops))
		return ignoreClosed(opsServer.ListenAndServe())
	})

	if cfg.Server.Plaintext {
		server := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		closers = append(closers, server.Shutdown)
		g.Go(func() error {
			logger.Info("starting HTTP server", zap.String("addr", cfg.Server.Listen))
			return ignoreClosed(server.ListenAndServe())
		})
	} else {
		tlsConfig, challenge, err := buildTLSConfig(cfg, logger)
		if err != nil {
			return err
		}
		if challenge != nil {
			closers = append(closers, challenge.Shutdown)
			g.Go(func() error {
				logger.Info("starting HTTP-01 challenge server", zap.String("addr", challenge.Addr))
				return ignoreClosed(challenge.ListenAndServe())
			})
		}

		handler := router
		if cfg.Server.HTTP3 {
			h3server := &http3.Server{
				Addr:      cfg.Server.Listen,
				Handler:   router,
				TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
			}
			handler = advertiseHTTP3(h3server, router)
			closers = append(closers, func(context.Context) error { return h3server.Close() })
			g.Go(func() error {
				logger.Info("starting HTTP/3 server",
					zap.String("addr", cfg.Server.Listen),
					zap.String("domain", cfg.Server.Domain),
				)
				return ignoreClosed(h3server.ListenAndServe())
			})
		}

		server := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
		}
		closers = append(closers, server.Shutdown)
		g.Go(func() error {
			logger.Info("starting HTTPS server", zap.String("addr", cfg.Server.Listen))
			return ignoreClosed(server.ListenAndServeTLS("", ""))
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, c := range closers {
			if err := c(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// buildTLSConfig returns the TLS settings for the public listener, plus the
// HTTP-01 challenge server when certificates come from ACME.
func buildTLSConfig(cfg *config.Config, logger *zap.Logger) (*tls.Config, *http.Server, error) {
	if cfg.Server.Insecure {
		cert, err := proxy.GenerateSelfSignedCert(cfg.Server.Domain, 24*time.Hour)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using self-signed certificate", zap.String("domain", cfg.Server.Domain))
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil, nil
	}

	certManager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
		Cache:      autocert.DirCache(cfg.Server.Certs),
	}
	tlsConfig := certManager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	challenge := &http.Server{
		Addr:              cfg.Server.HTTP,
		Handler:           certManager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return tlsConfig, challenge, nil
}

// advertiseHTTP3 adds Alt-Svc to responses served over TCP.
func advertiseHTTP3(h3server *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3server.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
