package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	_ "github.com/viant/afsc/gs" // gs:// backup destinations
	_ "github.com/viant/afsc/s3" // s3:// backup destinations

	"github.com/viant/nebulastore/backup"
	"github.com/viant/nebulastore/config"
)

func backupCmd(args []string) {
	flags := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	dir := flags.String("dir", "", "storage directory (required unless config names it)")
	dest := flags.String("dest", "", "backup destination URL (required unless config names it)")
	incremental := flags.Bool("incremental", false, "back up only files changed since --since")
	since := flags.Duration("since", 24*time.Hour, "incremental reference window")
	flags.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, closeCatalog := newManager(ctx, *configPath, *dir, *dest, flags)
	defer closeCatalog()

	var manifest *backup.Manifest
	var err error
	if *incremental {
		manifest, err = manager.CreateIncrementalBackup(ctx, time.Now().Add(-*since))
	} else {
		manifest, err = manager.CreateFullBackup(ctx)
	}
	if err != nil {
		log.Fatalf("backup: %v", err)
	}
	fmt.Printf("%s id=%s type=%s files=%d path=%s\n",
		color.GreenString("backup created"), manifest.BackupID, manifest.Type, manifest.FileCount, manifest.Path)
}

func restoreCmd(args []string) {
	flags := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	dir := flags.String("dir", "", "storage directory (required unless config names it)")
	dest := flags.String("dest", "", "backup destination URL (required unless config names it)")
	id := flags.String("id", "", "backup id to restore (required)")
	flags.Parse(args)
	if *id == "" {
		flags.Usage()
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, closeCatalog := newManager(ctx, *configPath, *dir, *dest, flags)
	defer closeCatalog()

	manifest, err := manager.Restore(ctx, *id)
	if err != nil {
		log.Fatalf("restore: %v", err)
	}
	fmt.Printf("%s id=%s files=%d\n", color.GreenString("restored"), manifest.BackupID, manifest.FileCount)
}

func backupsCmd(args []string) {
	flags := flag.NewFlagSet("backups", flag.ExitOnError)
	configPath := flags.String("config", "", "config yaml (optional)")
	dir := flags.String("dir", "", "storage directory (required unless config names it)")
	dest := flags.String("dest", "", "backup destination URL (required unless config names it)")
	flags.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, closeCatalog := newManager(ctx, *configPath, *dir, *dest, flags)
	defer closeCatalog()

	manifests, err := manager.List(ctx)
	if err != nil {
		log.Fatalf("backups: %v", err)
	}
	if len(manifests) == 0 {
		fmt.Println("no backups")
		return
	}
	for _, manifest := range manifests {
		fmt.Printf("%s  %-11s files=%-4d %s\n",
			manifest.CreatedTime.Format("2006-01-02 15:04:05"), manifest.Type, manifest.FileCount, manifest.BackupID)
	}
}

// newManager resolves dir/dest from flags or config and builds the backup
// manager, attaching the catalog when configured.
func newManager(ctx context.Context, configPath, dir, dest string, flags *flag.FlagSet) (*backup.Manager, func()) {
	catalogPath := ""
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		if dir == "" {
			dir = cfg.Dir
		}
		if dest == "" {
			dest = cfg.Backup.Dest
		}
		catalogPath = cfg.Backup.Catalog
	}
	if dir == "" || dest == "" {
		flags.Usage()
		os.Exit(2)
	}
	opts := []backup.Option{}
	closeCatalog := func() {}
	if catalogPath != "" {
		catalog, err := backup.OpenCatalog(ctx, catalogPath)
		if err != nil {
			log.Fatalf("open catalog: %v", err)
		}
		opts = append(opts, backup.WithCatalog(catalog))
		closeCatalog = func() { _ = catalog.Close() }
	}
	return backup.New(dir, dest, opts...), closeCatalog
}
