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
	"github.com/google/gops/agent"

	"github.com/viant/nebulastore/integrity"
	"github.com/viant/nebulastore/lock"
	"github.com/viant/nebulastore/recovery"
)

func main() {
	startGops()
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "check":
		checkCmd(os.Args[2:])
	case "repair":
		repairCmd(os.Args[2:])
	case "recover":
		recoverCmd(os.Args[2:])
	case "backup":
		backupCmd(os.Args[2:])
	case "restore":
		restoreCmd(os.Args[2:])
	case "backups":
		backupsCmd(os.Args[2:])
	case "lock-status":
		lockStatusCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: nebulastore <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  check        Verify storage file integrity")
	fmt.Fprintln(os.Stderr, "  repair       Verify and repair storage files")
	fmt.Fprintln(os.Stderr, "  recover      Replay transaction logs after a crash")
	fmt.Fprintln(os.Stderr, "  backup       Create a full or incremental backup")
	fmt.Fprintln(os.Stderr, "  restore      Restore a backup by id")
	fmt.Fprintln(os.Stderr, "  backups      List backups at the destination")
	fmt.Fprintln(os.Stderr, "  lock-status  Show the directory lock holder")
	fmt.Fprintln(os.Stderr, "  run          Open the store and run its channels")
}

func checkCmd(args []string) {
	flags := flag.NewFlagSet("check", flag.ExitOnError)
	dir := flags.String("dir", "", "storage directory (required)")
	flags.Parse(args)
	if *dir == "" {
		flags.Usage()
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := integrity.New(*dir).Verify(ctx)
	printIntegrity(result)
	if result.Status != integrity.StatusIntact {
		os.Exit(1)
	}
}

func repairCmd(args []string) {
	flags := flag.NewFlagSet("repair", flag.ExitOnError)
	dir := flags.String("dir", "", "storage directory (required)")
	flags.Parse(args)
	if *dir == "" {
		flags.Usage()
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	verifier := integrity.New(*dir)
	scan := verifier.Verify(ctx)
	printIntegrity(scan)
	if scan.Status == integrity.StatusIntact {
		return
	}
	repair := verifier.Repair(ctx, scan)
	if repair.Error != "" {
		log.Fatalf("repair: %s", repair.Error)
	}
	for _, action := range repair.Actions {
		fmt.Printf("%s %s: %s\n", color.YellowString("repaired"), action.Name, action.Action)
	}
}

func recoverCmd(args []string) {
	flags := flag.NewFlagSet("recover", flag.ExitOnError)
	dir := flags.String("dir", "", "storage directory (required)")
	flags.Parse(args)
	if *dir == "" {
		flags.Usage()
		os.Exit(2)
	}
	result := recovery.New(*dir).Run()
	for _, action := range result.Actions {
		fmt.Printf("  %s\n", action)
	}
	fmt.Printf("recovery: %s\n", statusColor(result.OK())(string(result.Status)))
	if !result.OK() {
		log.Fatalf("recovery failed: %s", result.Error)
	}
}

func lockStatusCmd(args []string) {
	flags := flag.NewFlagSet("lock-status", flag.ExitOnError)
	dir := flags.String("dir", "", "storage directory (required)")
	flags.Parse(args)
	if *dir == "" {
		flags.Usage()
		os.Exit(2)
	}
	info, alive, err := lock.Status(*dir)
	if err != nil {
		log.Fatalf("lock-status: %v", err)
	}
	if info == nil {
		fmt.Println(color.GreenString("unlocked"))
		return
	}
	state := color.RedString("held")
	if !alive {
		state = color.YellowString("stale")
	}
	fmt.Printf("%s pid=%d machine=%s user=%s since=%s\n",
		state, info.ProcessID, info.Machine, info.User, info.CreatedTime.Format("2006-01-02 15:04:05"))
}

func printIntegrity(result *integrity.Result) {
	for _, check := range result.Files {
		if check.Valid {
			mark := color.GreenString("ok")
			if check.NewBaseline {
				mark = color.GreenString("ok (new baseline)")
			}
			fmt.Printf("  %-40s %s\n", check.Name, mark)
			continue
		}
		fmt.Printf("  %-40s %s\n", check.Name, color.RedString(check.Reason))
	}
	fmt.Printf("integrity: %s\n", statusColor(result.Status == integrity.StatusIntact)(string(result.Status)))
	if result.Error != "" {
		fmt.Printf("  %s\n", color.RedString(result.Error))
	}
}

func statusColor(ok bool) func(format string, args ...interface{}) string {
	if ok {
		return color.GreenString
	}
	return color.RedString
}

func startGops() {
	if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
		log.Printf("gops: %v", err)
	}
}
