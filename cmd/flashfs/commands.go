package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"lukechampine.com/blake3"

	"github.com/keks/flashfs/fsmetrics"
)

var commands = []*cli.Command{
	{
		Name:  "format",
		Usage: "Erase the filesystem region and write an empty filesystem",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "write-config", TakesFile: true, Usage: "Also write the layout in use to this TOML file"},
		},
		Action: func(c *cli.Context) error {
			img, err := openImage(c, true)
			if img == nil {
				return err
			}
			defer img.Close()

			if err != nil {
				logrus.WithError(err).Warn("reformatting unmountable filesystem")
			}

			if !img.created {
				if err := img.fs.Format(); err != nil {
					return err
				}
			}

			if path := c.String("write-config"); path != "" {
				data, err := img.cfg.Marshal()
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return errors.Wrap(err, "write config")
				}
			}

			fmt.Fprintf(c.App.Writer, "formatted, serial %d\n", img.fs.Serial())
			return nil
		},
	},
	{
		Name:  "info",
		Usage: "Print the state of the filesystem",
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				u := img.fs.Usage()
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 1, ' ', 0)
				fmt.Fprintf(w, "serial:\t%d\n", img.fs.Serial())
				fmt.Fprintf(w, "needs optimization:\t%t\n", img.fs.NeedsOptimization())
				fmt.Fprintf(w, "files:\t%d (%d bytes)\n", u.Files, u.FileBytes)
				fmt.Fprintf(w, "header slots:\t%d of %d free\n", u.HeaderFree, u.HeaderSlots)
				fmt.Fprintf(w, "data blocks:\t%d in use, %d spare\n", u.DataBlocks, u.DataSpare)
				fmt.Fprintf(w, "data block free:\t%d bytes\n", u.DataFree)
				return w.Flush()
			})
		},
	},
	{
		Name:    "ls",
		Aliases: []string{"list"},
		Usage:   "List the live files",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "digest", Usage: "Print the blake3 digest of each file"},
		},
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				for _, fi := range img.fs.Files() {
					line := fmt.Sprintf("%d\t%s\t%d\t0x%08x", fi.ID, fi.Name, fi.Size, fi.Addr)
					if c.Bool("digest") {
						data, err := img.fs.ReadFile(fi.Name)
						if err != nil {
							return err
						}
						line += "\t" + digest(data)
					}
					fmt.Fprintln(w, line)
				}
				return w.Flush()
			})
		},
	},
	{
		Name:      "put",
		Usage:     "Store a file, read from a host file or stdin",
		ArgsUsage: "NAME [FILE]",
		Action: func(c *cli.Context) error {
			name := c.Args().Get(0)
			if name == "" {
				return errors.New("put: missing file name")
			}

			var data []byte
			var err error
			if path := c.Args().Get(1); path != "" {
				data, err = os.ReadFile(path)
			} else {
				data, err = io.ReadAll(c.App.Reader)
			}
			if err != nil {
				return errors.Wrap(err, "put: read input")
			}

			return withImage(c, func(img *image) error {
				return img.fs.WriteFile(name, data)
			})
		},
	},
	{
		Name:      "get",
		Usage:     "Print the contents of a file",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, TakesFile: true, Usage: "Write to this host file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				data, err := img.fs.ReadFile(c.Args().Get(0))
				if err != nil {
					return err
				}

				if path := c.String("out"); path != "" {
					return errors.Wrap(os.WriteFile(path, data, 0o644), "get: write output")
				}

				_, err = c.App.Writer.Write(data)
				return err
			})
		},
	},
	{
		Name:      "rm",
		Usage:     "Delete files",
		ArgsUsage: "NAME...",
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				for _, name := range c.Args().Slice() {
					if err := img.fs.DeleteFile(name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	},
	{
		Name:  "optimize",
		Usage: "Compact the filesystem into the next generation",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "if-needed", Usage: "Only optimize when the filesystem asks for it"},
		},
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				if c.Bool("if-needed") && !img.fs.NeedsOptimization() {
					return nil
				}
				if err := img.fs.Optimize(); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "optimized, serial %d\n", img.fs.Serial())
				return nil
			})
		},
	},
	{
		Name:      "sum",
		Usage:     "Print the blake3 digest of files",
		ArgsUsage: "NAME...",
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				for _, name := range c.Args().Slice() {
					data, err := img.fs.ReadFile(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s  %s\n", digest(data), name)
				}
				return nil
			})
		},
	},
	{
		Name:  "metrics",
		Usage: "Serve filesystem metrics for prometheus",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: "localhost:9410", Usage: "Address to serve /metrics on"},
		},
		Action: func(c *cli.Context) error {
			return withImage(c, func(img *image) error {
				handler := promhttp.HandlerFor(fsmetrics.Registry(img.fs), promhttp.HandlerOpts{
					ErrorHandling: promhttp.HTTPErrorOnError,
				})

				mux := http.NewServeMux()
				mux.Handle("/metrics", handler)

				addr := c.String("listen")
				logrus.WithField("addr", addr).Info("serving metrics")
				return http.ListenAndServe(addr, mux)
			})
		},
	},
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
