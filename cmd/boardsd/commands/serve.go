package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/node/grpcnode"
	"xdao.co/boards/statusapi"
)

const shutdownGrace = 5 * time.Second

func serveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node, status API and peer discovery until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return o.withApp(func(a *app) error { return serve(ctx, a) })
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := a.log.WithField("component", "serve")

	n, err := a.boot.Node(ctx)
	if err != nil {
		return err
	}
	if a.boot.Context() == bootstrap.ClientContext {
		if err := a.boot.ConnectToBackend(ctx); err != nil {
			log.WithError(err).Warn("no backend connection")
		}
	}
	if _, err := a.boot.Database(ctx); err != nil {
		return err
	}
	if _, err := a.api.PublishVersion(ctx); err != nil {
		log.WithError(err).Warn("version marker not published")
	}

	// Listeners are opened before any server goroutine starts so a bind
	// failure leaves nothing running.
	httpLis, err := listen("http", a.cfg.HTTPListen)
	if err != nil {
		return err
	}
	grpcLis, err := grpcListener(a, log)
	if err != nil {
		if httpLis != nil {
			_ = httpLis.Close()
		}
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if httpLis != nil {
		srv := &http.Server{
			Handler:           statusapi.NewServer(a.st, a.diag, a.log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.WithField("addr", httpLis.Addr().String()).Info("status API listening")
			if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if grpcLis != nil {
		s := grpc.NewServer()
		grpcnode.RegisterNodeServer(s, &grpcnode.Server{Node: n, Log: a.log})
		g.Go(func() error {
			log.WithField("addr", grpcLis.Addr().String()).Info("node gRPC listening")
			return s.Serve(grpcLis)
		})
		g.Go(func() error {
			<-ctx.Done()
			s.GracefulStop()
			return nil
		})
	}

	if every := time.Duration(a.cfg.DiscoveryInterval); every > 0 {
		g.Go(func() error {
			discover(ctx, a, log)
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					discover(ctx, a, log)
				}
			}
		})
	}

	log.WithFields(logrus.Fields{"peer": n.ID(), "addrs": n.Addrs()}).Info("boardsd ready")
	<-ctx.Done()
	return g.Wait()
}

func grpcListener(a *app, log *logrus.Entry) (net.Listener, error) {
	if a.cfg.GRPCListen != "" && a.cfg.RemoteNode != "" {
		log.Warn("grpc_listen ignored when attached to a remote node")
		return nil, nil
	}
	return listen("grpc", a.cfg.GRPCListen)
}

// listen returns nil for an empty address.
func listen(what, addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listen %s: %w", what, addr, err)
	}
	return lis, nil
}

func discover(ctx context.Context, a *app, log *logrus.Entry) {
	count, err := a.ids.DiscoverPeers(ctx)
	if err != nil {
		log.WithError(err).Debug("peer discovery skipped")
		return
	}
	log.WithField("peers", count).Debug("peer discovery started")
}
