/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
	"github.com/loqalabs/loqa-audio-go/internal/nats"
	"github.com/loqalabs/loqa-audio-go/internal/observe"
)

const (
	playbackQueue   = 10
	shutdownTimeout = 5 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var noCapture bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay audio over NATS",
		Long: `Plays clips published on audio.<id> and audio.broadcast, and publishes
captured audio on audio.<id>.capture with state changes on audio.<id>.events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), !noCapture)
		},
	}

	cmd.Flags().BoolVar(&noCapture, "no-capture", false, "Only play audio, never open the capture device")
	return cmd
}

func (a *app) serve(ctx context.Context, capture bool) error {
	var opts []audio.HandleOption
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		metrics, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "loqa-audio",
			ServiceVersion: version,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("failed to shut down metrics provider", "error", err)
			}
		}()
		opts = append(opts, audio.WithMetrics(metrics))
	}

	h, cleanup, err := a.openHandle(opts...)
	if err != nil {
		return err
	}
	defer cleanup()

	nc, err := nats.Connect(ctx, a.cfg.NATS.URL, "loqa-audio-"+a.cfg.NATS.ID, slog.Default())
	if err != nil {
		return err
	}
	conn := nats.NewConnectionAdapter(nc)

	sub := nats.NewAudioSubscriber(conn, a.cfg.NATS.ID, playbackQueue, slog.Default())
	defer sub.Close()
	if err := sub.Start(); err != nil {
		return err
	}

	if capture {
		pub := nats.NewCapturePublisher(conn, a.cfg.NATS.ID, h.Format(), slog.Default())
		if err := h.SetCallbacks(pub.Callbacks()); err != nil {
			return err
		}
		if err := pub.Begin(); err != nil {
			return err
		}
		if err := h.StartCapture(); err != nil {
			return err
		}
		defer func() {
			if err := h.StopCapture(); err != nil {
				slog.Warn("failed to stop capture", "error", err)
			}
			if err := pub.End(); err != nil {
				slog.Warn("failed to publish end of capture", "error", err)
			}
		}()
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		serveMetrics(ctx, g, lis)
	}

	slog.Info("relay running", "id", a.cfg.NATS.ID, "subject", sub.Subject(), "capture", capture)
	g.Go(func() error {
		return sub.Run(ctx, h)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("relay stopped")
	return nil
}

// serveMetrics serves /metrics on lis until ctx is done
func serveMetrics(ctx context.Context, g *errgroup.Group, lis net.Listener) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("serving metrics", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
