package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/viant/nebulastore/channel"
	"github.com/viant/nebulastore/config"
	"github.com/viant/nebulastore/integrity"
	"github.com/viant/nebulastore/lock"
	"github.com/viant/nebulastore/recovery"
)

// runCmd opens the store and keeps its channels running until interrupted.
// Startup order is fixed: directory lock, crash recovery, integrity scan,
// then channels. A foreign lock or failed recovery aborts before any channel
// opens.
func runCmd(args []string) {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (required)")
	flags.Parse(args)
	if *configPath == "" {
		flags.Usage()
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	guard, lockResult := lock.Acquire(cfg.Dir)
	if guard == nil {
		if lockResult.Holder != nil {
			log.Fatalf("run: directory locked by pid=%d on %s since %s",
				lockResult.Holder.ProcessID, lockResult.Holder.Machine,
				lockResult.Holder.CreatedTime.Format("2006-01-02 15:04:05"))
		}
		log.Fatalf("run: lock: %s", lockResult.Error)
	}
	defer guard.Close()
	if lockResult.StaleRemoved {
		log.Printf("run: removed stale lock")
	}

	recoveryResult := recovery.New(cfg.Dir).Run()
	if !recoveryResult.OK() {
		log.Fatalf("run: recovery failed: %s", recoveryResult.Error)
	}
	if recoveryResult.Status == recovery.StatusRecoveryPerformed {
		for _, action := range recoveryResult.Actions {
			log.Printf("run: recovery: %s", action)
		}
	}

	scan := integrity.New(cfg.Dir).Verify(ctx)
	if scan.Status != integrity.StatusIntact {
		printIntegrity(scan)
		log.Fatalf("run: integrity %s; run repair first", scan.Status)
	}

	channels := make([]*channel.Channel, 0, cfg.Channels)
	for index := int32(1); index <= cfg.Channels; index++ {
		ch, err := channel.New(cfg.Dir, index,
			channel.WithRotateSize(cfg.RotateSize),
			channel.WithEviction(cfg.Eviction.TimeoutMs, cfg.Eviction.Threshold),
			channel.WithHousekeeping(cfg.Housekeeping.Interval,
				cfg.Housekeeping.CacheBudget, cfg.Housekeeping.GCBudget, cfg.Housekeeping.CleanupBudget),
		)
		if err != nil {
			log.Fatalf("run: open channel %d: %v", index, err)
		}
		ch.Run()
		channels = append(channels, ch)
	}
	fmt.Printf("%s dir=%s channels=%d\n", color.GreenString("store running"), cfg.Dir, len(channels))

	<-ctx.Done()
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			log.Printf("run: close channel %d: %v", ch.Index(), err)
		}
	}
	fmt.Println("store stopped")
}
