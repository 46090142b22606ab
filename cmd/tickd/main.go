package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickd/internal/app"
	"tickd/internal/config"
	logx "tickd/pkg/logx"
)

func main() {
	var (
		cfgPath string
		check   bool
		runs    int
	)
	flag.StringVar(&cfgPath, "config", "./tickd.yaml", "path to config (json or yaml)")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.IntVar(&runs, "runs", 0, "print the N most recent stored runs and exit")
	flag.Parse()

	if check {
		if _, err := config.NewManager(cfgPath).Load(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if runs > 0 {
		os.Exit(printRuns(ctx, a, runs))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}
	log := a.Logger()
	notify(log, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	notify(log, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "stop:", stopErr)
		os.Exit(1)
	}
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func printRuns(ctx context.Context, a *app.App, n int) int {
	defer func() { _ = a.Stop(context.Background()) }()
	recs, err := a.RecentRuns(ctx, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runs:", err)
		return 1
	}
	for _, r := range recs {
		status := "ok"
		switch {
		case r.OK:
		case r.Ignored:
			status = "ignored"
		default:
			status = "failed"
		}
		line := fmt.Sprintf("%s  %-24s %-8s %6dms", r.Tick.Format(time.RFC3339), r.Name, status, r.DurationMS)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return 0
}
