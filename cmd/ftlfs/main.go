package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-ftlfs/config"
	"github.com/mit-pdos/go-ftlfs/fs"
	"github.com/mit-pdos/go-ftlfs/util"
)

func setupLogging(debug uint64) {
	level := slog.LevelInfo
	if debug > 0 {
		level = slog.LevelDebug
	}
	util.Debug = debug
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	))
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ftlfs",
		Usage: "Inspect and populate ftlfs disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "path to the disk image",
				EnvVars: []string{config.KeyDevice},
			},
			&cli.Uint64Flag{
				Name:  "pages",
				Usage: "device size in 4KiB pages; 0 uses the image size",
			},
			&cli.Uint64Flag{
				Name:  "shards",
				Usage: "buffer pool shards",
			},
			&cli.Uint64Flag{
				Name:  "frames",
				Usage: "frames per buffer pool shard",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "dotenv file(s) to read settings from",
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "debug trace level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "mkfs",
				Usage:  "Create an image, or check that one is already formatted",
				Action: mkfs,
			},
			{
				Name:      "mkdir",
				Usage:     "Create directories",
				ArgsUsage: "PATH...",
				Action:    eachPath(func(ctx context.Context, f *fs.FileSystem, p string) error { return f.Mkdir(ctx, p) }),
			},
			{
				Name:      "mknod",
				Usage:     "Create empty regular files",
				ArgsUsage: "PATH...",
				Action:    eachPath(func(ctx context.Context, f *fs.FileSystem, p string) error { return f.Mknod(ctx, p) }),
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[PATH]",
				Action:    ls,
			},
			{
				Name:      "stat",
				Usage:     "Show the attributes of a path",
				ArgsUsage: "PATH...",
				Action:    stat,
			},
			{
				Name:   "info",
				Usage:  "Show device geometry and space usage",
				Action: info,
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.StringSlice("env")...)
	if err != nil {
		return cfg, err
	}
	if c.IsSet("device") {
		cfg.DevicePath = c.String("device")
	}
	if c.IsSet("pages") {
		cfg.DevicePages = c.Uint64("pages")
	}
	if c.IsSet("shards") {
		cfg.Shards = c.Uint64("shards")
	}
	if c.IsSet("frames") {
		cfg.FramesPerShard = c.Uint64("frames")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Uint64("debug")
	}
	return cfg, nil
}

// withFS mounts the image for the duration of f and unmounts it afterwards,
// reporting errors from both.
func withFS(c *cli.Context, f func(ctx context.Context, fsys *fs.FileSystem) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogging(cfg.Debug)
	fsys, err := fs.Open(c.Context, cfg)
	if err != nil {
		return err
	}
	var result *multierror.Error
	if err := f(c.Context, fsys); err != nil {
		result = multierror.Append(result, err)
	}
	if err := fsys.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func eachPath(op func(ctx context.Context, fsys *fs.FileSystem, path string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() == 0 {
			return fmt.Errorf("%s: no paths given", c.Command.Name)
		}
		return withFS(c, func(ctx context.Context, fsys *fs.FileSystem) error {
			for _, p := range c.Args().Slice() {
				if err := op(ctx, fsys, p); err != nil {
					return fmt.Errorf("%s %s: %w", c.Command.Name, p, err)
				}
			}
			return nil
		})
	}
}

func mkfs(c *cli.Context) error {
	return withFS(c, func(ctx context.Context, fsys *fs.FileSystem) error {
		if fsys.Formatted() {
			fmt.Fprintf(c.App.Writer, "formatted %s\n", humanize.IBytes(fsys.DeviceInfo().SizeBytes))
		} else {
			fmt.Fprintf(c.App.Writer, "already formatted\n")
		}
		return nil
	})
}

func ls(c *cli.Context) error {
	path := "/"
	if c.NArg() > 0 {
		path = c.Args().First()
	}
	return withFS(c, func(ctx context.Context, fsys *fs.FileSystem) error {
		names, err := fsys.ReadDirAll(ctx, path)
		if err != nil {
			return fmt.Errorf("ls %s: %w", path, err)
		}
		for _, n := range names {
			fmt.Fprintln(c.App.Writer, n)
		}
		return nil
	})
}

func stat(c *cli.Context) error {
	return withFS(c, func(ctx context.Context, fsys *fs.FileSystem) error {
		for _, p := range c.Args().Slice() {
			attr, err := fsys.Getattr(ctx, p)
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			fmt.Fprintf(c.App.Writer, "%s\tinode %d\t%v\tmode %#o\n", p, attr.Inum, attr.Type, attr.Mode)
		}
		return nil
	})
}

func info(c *cli.Context) error {
	return withFS(c, func(ctx context.Context, fsys *fs.FileSystem) error {
		st, err := fsys.Statfs(ctx)
		if err != nil {
			return err
		}
		di := fsys.DeviceInfo()
		w := c.App.Writer
		fmt.Fprintf(w, "device:  %d pages (%s), io size %s\n",
			di.Pages, humanize.IBytes(di.SizeBytes), humanize.IBytes(di.IOSize))
		fmt.Fprintf(w, "usage:   %d\n", st.Usage)
		fmt.Fprintf(w, "inodes:  %s used of %s\n",
			humanize.Comma(int64(st.Inodes-st.FreeInodes)), humanize.Comma(int64(st.Inodes)))
		fmt.Fprintf(w, "blocks:  %d used of %d (%s free)\n",
			st.Blocks-st.FreeBlocks, st.Blocks, humanize.IBytes(st.FreeBlocks*st.BlockSize))
		return nil
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	err := newApp().RunContext(ctx, os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
