package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tiercache/tiercache"
	"github.com/tiercache/tiercache/internal/config"
)

var (
	configPath string
	directory  string
	cache      *tiercache.Cache[string, []byte]
)

var rootCmd = &cobra.Command{
	Use:   "tiercache",
	Short: "Inspect and manage tiercache directories",
	Long: `tiercache is a two-tier data cache; this tool inspects and manages
the persistent tier's backing directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		cfg := config.Default()
		if configPath != "" {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		}
		if directory == "" {
			directory = cfg.Disk.Directory
		}
		if directory == "" {
			return fmt.Errorf("no cache directory: pass --dir or set disk.directory in the config")
		}

		costLimit, err := cfg.CostLimitBytes()
		if err != nil {
			return err
		}
		sizeLimit, err := cfg.SizeLimitBytes()
		if err != nil {
			return err
		}
		expiration, err := cfg.ExpirationDuration()
		if err != nil {
			return err
		}

		cache, err = tiercache.New(tiercache.Options[string, []byte]{
			Directory:         directory,
			CountLimit:        cfg.Memory.CountLimit,
			CostLimit:         costLimit,
			SizeLimit:         sizeLimit,
			ExpirationTimeout: expiration,
			Compress:          cfg.Disk.Compress,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cache != nil {
			cache.Close()
		}
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show the cache directory's entry count and footprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := cache.Disk()
		count, err := d.TotalCount()
		if err != nil {
			return err
		}
		size, err := d.TotalSize()
		if err != nil {
			return err
		}
		allocated, err := d.TotalAllocatedSize()
		if err != nil {
			return err
		}
		fmt.Printf("directory: %s\n", d.Directory())
		fmt.Printf("entries:   %d\n", count)
		fmt.Printf("size:      %s\n", humanize.IBytes(uint64(size)))
		fmt.Printf("allocated: %s\n", humanize.IBytes(uint64(allocated)))
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cache files by access date, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := os.ReadDir(cache.Disk().Directory())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		type row struct {
			name string
			size uint64
			when time.Time
		}
		rows := make([]row, 0, len(entries))
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !e.Type().IsRegular() {
				continue
			}
			rows = append(rows, row{
				name: e.Name(),
				size: uint64(info.Size()),
				when: info.ModTime(),
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].when.Before(rows[j].when) })
		for _, r := range rows {
			fmt.Printf("%-44s %10s  %s\n", r.name, humanize.IBytes(r.size), humanize.Time(r.when))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Read the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, ok, err := cache.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", args[0])
		}
		_, err = os.Stdout.Write(value)
		return err
	},
}

var setCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a value under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cache.Store(args[0], []byte(args[1])).Wait(cmd.Context()); err != nil {
			return err
		}
		return cache.Flush(cmd.Context())
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm [key]",
	Short: "Remove the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cache.Remove(args[0]).Wait(cmd.Context()); err != nil {
			return err
		}
		return cache.Flush(cmd.Context())
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every entry in the cache directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cache.Clear().Wait(cmd.Context()); err != nil {
			return err
		}
		return cache.Flush(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&directory, "dir", "", "cache directory")
	rootCmd.AddCommand(statCmd, lsCmd, getCmd, setCmd, rmCmd, purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
