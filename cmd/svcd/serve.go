package main

import (
	"cmp"
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/axondata/go-svcd"
	"github.com/axondata/go-svcd/internal/auth"
	"github.com/axondata/go-svcd/internal/discovery"
	"github.com/axondata/go-svcd/internal/logging"
	"github.com/axondata/go-svcd/internal/web"
)

// doServe runs the daemon until SIGINT or SIGTERM. SIGHUP reloads the jobs
// from the configuration file.
func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authenticator, err := auth.New(config.Auth, logging.WithComponent(logger, "auth"))
	if err != nil {
		return err
	}

	uid := uuid.New()
	opts := []svcd.HandlerOption{svcd.WithAuthenticator(authenticator), svcd.WithInstanceID(uid)}
	if config.Discovery.Enabled {
		port, err := discoveryPort(config.Discovery.Listen)
		if err != nil {
			return err
		}
		opts = append(opts, svcd.WithScanner(discovery.NewScanner(port, uid, config.Discovery.ScanTimeout,
			logging.WithComponent(logger, "discovery"))))
	}
	h := svcd.NewHandler(jobSource(), logging.WithComponent(logger, "handler"), opts...)

	var srv *web.Server
	if config.Web.Enabled {
		srv = web.New(h, authenticator, logging.WithComponent(logger, "web"))
		h.AddInterface(srv)
	}

	if err := h.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := h.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("shutting down jobs")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(gctx, config.Web.Listen)
		})
	}
	if config.Discovery.Enabled {
		resp, err := discovery.Listen(gctx, config.Discovery.Listen, h.InstanceID(),
			logging.WithComponent(logger, "discovery"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return resp.Stop()
		})
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info().Msg("SIGHUP received, reloading jobs")
				// a failed reload keeps the current jobs and is logged by the handler
				_ = h.Reload()
			}
		}
	})

	logger.Info().Str("version", svcd.Version).Str("uid", h.InstanceID().String()).Msg("svcd started")
	err = g.Wait()
	logger.Info().Msg("svcd stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// jobSource re-reads the configuration file on every reload
func jobSource() svcd.JobSource {
	first := true
	return func() ([]svcd.JobConfig, error) {
		if first {
			first = false
			return config.Jobs, nil
		}
		return svcd.LoadJobs(configPath)
	}
}

func discoveryPort(listen string) (int, error) {
	_, p, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(cmp.Or(p, strconv.Itoa(discovery.DefaultPort)))
	if err != nil {
		return 0, err
	}
	return port, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
