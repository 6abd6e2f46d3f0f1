// attempt-tail follows the trade-attempt journal stream and prints each
// attempt as it lands. Useful for watching a live engine from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/journal"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	group := flag.String("group", "tail", "consumer group name")
	consumer := flag.String("consumer", "attempt-tail", "consumer name inside the group")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Redis.Addr == "" {
		fmt.Fprintln(os.Stderr, "redis.addr not configured; nothing to tail")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	t := journal.NewTailer(cfg)
	if err := t.EnsureGroup(ctx, *group); err != nil {
		fmt.Fprintln(os.Stderr, "group:", err)
		os.Exit(1)
	}

	entries := make(chan journal.Entry, 64)
	go func() {
		defer close(entries)
		_ = t.Tail(ctx, *group, *consumer, entries)
	}()

	for e := range entries {
		line := fmt.Sprintf("%s  %-15s  %s  legs %d/%d  req %.8f  exp %+.8f  real %+.8f",
			e.StartedAt.Format("15:04:05"), e.Status, e.Path,
			e.LegsFilled, e.LegsTotal, e.Requested, e.ExpectedProfit, e.RealizedProfit)
		if e.Reason != "" {
			line += "  (" + e.Reason + ")"
		}
		fmt.Println(line)
	}
}
