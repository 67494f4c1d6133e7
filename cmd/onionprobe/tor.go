package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nao1215/onionprobe/internal/config"
	"github.com/nao1215/onionprobe/internal/probe"
	"github.com/nao1215/onionprobe/internal/tor"
)

// torSession is a verified connection to Tor.
type torSession struct {
	// transport probes onion services through the session.
	transport probe.Transport

	// httpClient reaches clearnet and onion HTTP endpoints through the session.
	httpClient *http.Client

	// close releases the session. It is never nil.
	close func()
}

// connectFunc opens a torSession. Progress messages for the user go to out.
type connectFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*torSession, error)

// connectTor reaches Tor through the external proxy or an embedded daemon,
// as selected by cfg, and checks that the proxy answers.
func connectTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*torSession, error) {
	if cfg.UseExternalTor {
		client, err := tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Tor client: %w", err)
		}

		if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
			return nil, fmt.Errorf("tor proxy check failed: %s (make sure Tor is running at %s): %w",
				status, cfg.TorProxyAddress, status.Error())
		}
		logger.Info("Tor proxy connection verified", "proxy", cfg.TorProxyAddress)

		return newTorSession(client, cfg, logger, func() {}), nil
	}

	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewEmbeddedTor(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	stop := func() {
		logger.Info("stopping embedded Tor daemon")
		if err := embedded.Stop(); err != nil {
			logger.Error("failed to stop embedded Tor", "error", err)
		}
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embedded.SocksAddr(),
		"controlAddr", embedded.ControlAddr(),
	)
	fmt.Fprintf(out, "Embedded Tor daemon started (SOCKS proxy %s)\n\n", embedded.SocksAddr())

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}

	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		stop()
		return nil, fmt.Errorf("embedded Tor proxy check failed: %s: %w", status, status.Error())
	}

	return newTorSession(client, cfg, logger, stop), nil
}

// newTorSession wraps a verified client.
func newTorSession(client *tor.Client, cfg *config.Config, logger *slog.Logger, closeFn func()) *torSession {
	logger.Debug("Tor session ready",
		"proxy", client.ProxyAddress(),
		"timeout", client.Timeout(),
		"port", cfg.Port,
	)
	return &torSession{
		transport: tor.NewProber(client,
			tor.WithPort(cfg.Port),
			tor.WithProberLogger(logger),
		),
		httpClient: client.NewHTTPClient(),
		close:      closeFn,
	}
}
