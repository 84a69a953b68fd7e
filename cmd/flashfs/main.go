// The flashfs tool works on host images of a flash region that holds a
// logfs filesystem.
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/keks/flashfs/conf"
	"github.com/keks/flashfs/flashdev"
	"github.com/keks/flashfs/logfs"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "flashfs",
		Usage: "Inspect and edit logfs flash images",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Value: "flash.img", TakesFile: true, Usage: "Flash image file", EnvVars: []string{"FLASHFS_IMAGE"}},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, TakesFile: true, Usage: "TOML layout description, the firmware layout if unset", EnvVars: []string{"FLASHFS_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
		Commands: commands,
	}
}

func loadConfig(c *cli.Context) (conf.Config, error) {
	if path := c.String("config"); path != "" {
		return conf.Load(path)
	}
	return conf.Default(), nil
}

// image is an open flash image with the filesystem mounted on it.
type image struct {
	dev *flashdev.File
	fs  *logfs.FS
	cfg conf.Config

	// created is set when the image file did not exist and mounting
	// formatted it
	created bool
}

func (img *image) Close() error {
	return img.dev.Close()
}

// openImage mounts the filesystem in the image. With create set, a missing
// image file is created erased.
func openImage(c *cli.Context, create bool) (*image, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	path := c.String("image")

	var dev *flashdev.File
	_, statErr := os.Stat(path)
	created := create && os.IsNotExist(statErr)
	if created {
		logrus.WithFields(logrus.Fields{
			"image":  path,
			"blocks": cfg.BlockCount,
		}).Info("creating flash image")
		dev, err = flashdev.Create(path, cfg.SectorSize, cfg.BlockCount)
	} else {
		dev, err = flashdev.Open(path, cfg.SectorSize)
	}
	if err != nil {
		return nil, err
	}

	if dev.Blocks() < cfg.BlockCount {
		dev.Close()
		return nil, errors.Errorf("image %s has %d blocks, the layout needs %d", path, dev.Blocks(), cfg.BlockCount)
	}

	img := &image{dev: dev, cfg: cfg, created: created}
	img.fs, err = logfs.New(cfg.FSConfig(dev, logrus.StandardLogger()))
	if img.fs == nil {
		dev.Close()
		return nil, err
	}

	// a failed mount is kept so that format can recover it
	return img, err
}

// withImage runs fn on the mounted image and closes it afterwards.
func withImage(c *cli.Context, fn func(*image) error) error {
	img, err := openImage(c, false)
	if err != nil {
		if img != nil {
			img.Close()
		}
		return err
	}

	if err := fn(img); err != nil {
		img.Close()
		return err
	}

	return img.Close()
}
