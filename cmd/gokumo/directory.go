package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joshp123/gokumo/internal/account"
	"github.com/joshp123/gokumo/internal/blob"
	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/plugins/kumo"
)

func directoryMain(args []string) {
	flags := flag.NewFlagSet("gokumo directory", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.pbtxt")
	fromCache := flags.Bool("cache", false, "Read the cached directory instead of logging in")
	save := flags.Bool("save", false, "Write a freshly fetched directory to the cache")
	timeout := flags.Duration("timeout", 30*time.Second, "Overall timeout")
	_ = flags.Parse(args)

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fatal("directory", err)
	}
	if cfg.Kumo == nil {
		fatal("directory", fmt.Errorf("kumo config missing"))
	}
	runtimeCfg, err := kumo.ConfigFromFile(cfg.Kumo)
	if err != nil {
		fatal("directory", err)
	}
	store, err := kumo.NewStore(cfg.Cache)
	if err != nil {
		fatal("directory", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var raw []byte
	if *fromCache {
		raw, err = store.Load(ctx, cfg.Cache.Key)
		if errors.Is(err, blob.ErrNotFound) {
			fatal("directory", fmt.Errorf("no cached directory under %q", cfg.Cache.Key))
		}
	} else {
		cloud := account.NewCloudClient(account.CloudOptions{
			BaseURL:  runtimeCfg.CloudURL,
			Username: runtimeCfg.Username,
			Password: runtimeCfg.Password,
		})
		raw, err = cloud.Login(ctx)
	}
	if err != nil {
		fatal("directory", err)
	}

	dir, err := account.Parse(raw, slog.Default())
	if err != nil {
		fatal("directory", err)
	}
	dir = dir.WithAddresses(runtimeCfg.UnitAddresses)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tNAME\tKIND\tADDRESS")
	for _, serial := range dir.AllUnits() {
		record, _ := dir.Record(serial)
		address := record.Address
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", serial, record.Name, record.Kind, address)
	}
	_ = w.Flush()

	if *save && !*fromCache {
		if err := store.Save(ctx, cfg.Cache.Key, raw); err != nil {
			fatal("directory save", err)
		}
		fmt.Fprintf(os.Stderr, "saved directory to cache key %q\n", cfg.Cache.Key)
	}
}
