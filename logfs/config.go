package logfs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashblk"
)

// Config describes the flash region and how the filesystem uses it.
type Config struct {
	flashblk.Layout

	Device flashfs.Device

	// MaxFileSize is the largest payload WriteFile accepts. It is also the
	// worst case NeedsOptimization plans for. Defaults to a whole sector.
	MaxFileSize uint32

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

func (cfg *Config) check() error {
	if cfg.Device == nil {
		return errors.New("logfs: no flash device configured")
	}

	if err := cfg.Layout.Validate(); err != nil {
		return err
	}

	if cfg.SectorSize%RecordSize != 0 {
		return errors.Errorf("logfs: sector size %d is not a multiple of %d", cfg.SectorSize, RecordSize)
	}

	if cfg.SectorSize < HeaderSize+2*RecordSize {
		return errors.Errorf("logfs: sector size %d cannot hold a header and one file", cfg.SectorSize)
	}

	// the data start index is stored in one byte
	if len(cfg.DataBlocks) > 256 {
		return errors.Errorf("logfs: %d data blocks configured, at most 256 supported", len(cfg.DataBlocks))
	}

	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = cfg.SectorSize
	}

	if cfg.MaxFileSize > cfg.SectorSize {
		return errors.Errorf("logfs: max file size %d exceeds sector size %d", cfg.MaxFileSize, cfg.SectorSize)
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return nil
}
