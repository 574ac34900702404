// Command moqpub reads a fragmented MP4 stream from stdin and publishes
// it as a MoQ broadcast, either by listening for WebTransport
// connections directly (--bind) or by dialing out to a relay (--url).
// It is the external CLI/TLS collaborator spec.md §1 and §4.E assume:
// this core itself never parses flags or negotiates a session.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"golang.org/x/sync/errgroup"

	"github.com/arcspire/moqpub/cache"
	"github.com/arcspire/moqpub/certs"
	"github.com/arcspire/moqpub/ingest"
	"github.com/arcspire/moqpub/moq"
	"github.com/arcspire/moqpub/session"
	"github.com/arcspire/moqpub/transport"
)

var version = "dev"

func main() {
	var (
		bind             = flag.String("bind", "", "listen address for direct WebTransport connections (e.g. :4443)")
		url              = flag.String("url", "", "relay URL to publish to (https://host:port/path)")
		tlsRoot          = flag.String("tls-root", "", "path to a PEM CA certificate to trust when dialing --url")
		tlsDisableVerify = flag.Bool("tls-disable-verify", false, "skip TLS certificate verification when dialing --url")
		publish          = flag.String("publish", "live", "broadcast name")
		track            = flag.String("track", "", "restrict ingest to one named moov track (unimplemented; tracks are auto-discovered)")
		bitrates         = flag.String("bitrates", "", "comma-separated per-video-track catalog bit rate overrides")
	)
	flag.Parse()
	if *track != "" {
		slog.Warn("--track is accepted for CLI compatibility but ignored; all moov tracks are published", "track", *track)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if (*bind == "") == (*url == "") {
		slog.Error("exactly one of --bind or --url is required")
		os.Exit(1)
	}

	slog.Info("moqpub starting", "version", version, "publish", *publish)

	bitrateList, err := parseBitrates(*bitrates)
	if err != nil {
		slog.Error("invalid --bitrates", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	bcastPub, bcastSub := cache.NewBroadcast(*publish)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		in := ingest.New(os.Stdin, bcastPub, bitrateList, slog.Default())
		if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ingest: %w", err)
		}
		return nil
	})

	if *bind != "" {
		g.Go(func() error { return serveBind(ctx, *bind, bcastSub) })
	} else {
		g.Go(func() error { return serveDial(ctx, *url, *tlsRoot, *tlsDisableVerify, bcastSub) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("moqpub error", "error", err)
		os.Exit(1)
	}
}

func parseBitrates(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// serveBind listens for WebTransport connections directly, generating a
// short-lived self-signed certificate, in the teacher's
// distribution.Server.Start style. Each accepted session is served by
// its own session.Publisher.
func serveBind(ctx context.Context, addr string, bcastSub *cache.BroadcastSubscriber) error {
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("publishing via direct listener",
		"addr", addr,
		"fingerprint", cert.FingerprintBase64(),
	)

	mux := http.NewServeMux()
	wtSrv := &webtransport.Server{
		H3: http3.Server{
			Addr:    addr,
			Handler: mux,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert.TLSCert},
			},
			QUICConfig: &quic.Config{MaxIdleTimeout: 30 * time.Second},
		},
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux.HandleFunc("/moq", func(w http.ResponseWriter, r *http.Request) {
		sess, err := wtSrv.Upgrade(w, r)
		if err != nil {
			slog.Error("webtransport upgrade failed", "error", err)
			return
		}
		slog.Info("subscriber connected", "remote", r.RemoteAddr)

		control, err := transport.AcceptControlStream(r.Context(), sess)
		if err != nil {
			slog.Error("accept control stream", "error", err)
			sess.CloseWithError(0, "control stream error")
			return
		}
		runPublisherSession(r.Context(), sess, control, bcastSub)
	})

	stop := context.AfterFunc(ctx, func() { wtSrv.Close() })
	defer stop()

	err = wtSrv.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// serveDial dials out to a relay at url and publishes a single session,
// redialing whenever that session ends while ctx remains live; only
// failed dials wait, with exponential backoff, before the next attempt.
func serveDial(ctx context.Context, url, tlsRootPath string, disableVerify bool, bcastSub *cache.BroadcastSubscriber) error {
	tlsConf := &tls.Config{InsecureSkipVerify: disableVerify}
	if tlsRootPath != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(tlsRootPath)
		if err != nil {
			return fmt.Errorf("read --tls-root: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("--tls-root: no certificates found in %s", tlsRootPath)
		}
		tlsConf.RootCAs = pool
	}

	dialer := webtransport.Dialer{TLSClientConfig: tlsConf}

	backoff := time.Second
	for {
		slog.Info("dialing relay", "url", url)
		_, sess, err := dialer.Dial(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("dial failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		control, err := transport.OpenControlStream(ctx, sess)
		if err != nil {
			slog.Error("open control stream", "error", err)
			sess.CloseWithError(0, "control stream error")
			continue
		}
		runPublisherSession(ctx, sess, control, bcastSub)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// runPublisherSession runs the publisher core to completion over an
// already-negotiated session and control stream, logging the terminal
// error (if any).
func runPublisherSession(ctx context.Context, sess *webtransport.Session, control transport.Control, bcastSub *cache.BroadcastSubscriber) {
	wtSess := transport.NewWebtransportSession(sess)
	pub := session.New(wtSess, control, bcastSub, moq.DefaultExtensions(), slog.Default())
	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("publisher session ended", "error", err)
	}
}
