package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"cardscene/internal/animator"
	"cardscene/internal/battery"
	"cardscene/internal/catalog"
	"cardscene/internal/clock"
	"cardscene/internal/config"
	"cardscene/internal/ics"
	appLog "cardscene/internal/log"
	"cardscene/internal/notify"
	"cardscene/internal/scheduler"
	"cardscene/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	check      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("cardscene starting", "version", "0.1.0")

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("invalid timezone, using local", "reason", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	cat, err := buildCatalog(ctx, conf, loc)
	if err != nil {
		appLog.Error("invalid scene configuration", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"poll", conf.Poll,
		"frame_rate", conf.FrameRate,
		"kinds", len(cat.Kinds()),
		"recurring", len(cat.Recurring()),
		"calendar", len(cat.Calendar()),
		"holidays", len(cat.Holidays()),
		"ics_count", len(conf.ICS),
	)

	if flags.check {
		fmt.Println("config OK")
		return
	}

	hub := notify.NewHub()
	sched := scheduler.New(cat, clock.NewReal(loc), animator.NewFrameQueue(), hub, scheduler.Options{
		PollSpec:  conf.Poll,
		FrameRate: conf.FrameRate,
		Location:  loc,
	})

	br := battery.New(conf.Battery.Enabled, conf.Battery.Bus, conf.Battery.Addr)
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, sched, hub, br).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()

	httpDone := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-schedDone:
		if err != nil {
			appLog.Error("scheduler failed", err)
			exitCode = 1
		}
		cancel()
		schedDone <- nil
	case err := <-httpDone:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			exitCode = 1
		}
		cancel()
		httpDone <- nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// Close the hub first so open event streams return.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	<-httpDone
	<-schedDone

	appLog.Info("cardscene exiting")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// buildCatalog turns the config file, plus any calendar feeds, into the
// immutable catalog.
func buildCatalog(ctx context.Context, conf *config.Config, loc *time.Location) (*catalog.Catalog, error) {
	cc, err := conf.CatalogConfig(loc)
	if err != nil {
		return nil, err
	}

	if len(conf.ICS) > 0 {
		now := time.Now().In(loc)
		feed, err := ics.LoadCalendar(ctx, ics.NewFetcher(conf.ICSCacheDir), icsSources(conf.ICS), ics.ExpandConfig{
			Location:   loc,
			RangeStart: now,
			RangeEnd:   now.AddDate(0, 0, conf.ICSHorizonDays),
		})
		if err != nil {
			appLog.Error("calendar feeds unavailable", err, "sources", len(conf.ICS))
		}
		cc.Calendar = append(cc.Calendar, feed...)
	}

	return catalog.New(cc)
}

func icsSources(cfgs []config.ICSConfig) []ics.Source {
	sources := make([]ics.Source, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}
	return sources
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./cardscene.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.check, "check", false, "Validate the config and exit")

	flag.Parse()

	return cfg
}
