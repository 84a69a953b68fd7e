// Package conf describes a flash region in TOML.
//
//	sector_size   = 2048
//	block_count   = 5
//	header_blocks = [0, 1]
//	data_blocks   = [2, 3, 4]
package conf

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashblk"
	"github.com/keks/flashfs/logfs"
)

// Config is the on-disk description of a flash region.
type Config struct {
	// BaseAddress is where the region starts on the flash controller. An
	// image file holds the region only.
	BaseAddress uint32 `toml:"base_address"`
	SectorSize  uint32 `toml:"sector_size"`

	// BlockCount is the number of sectors an image created for this
	// config holds.
	BlockCount int `toml:"block_count"`

	HeaderBlocks []uint32 `toml:"header_blocks"`
	DataBlocks   []uint32 `toml:"data_blocks"`

	// MaxFileSize of 0 selects a whole sector.
	MaxFileSize uint32 `toml:"max_file_size"`
}

// Default is the layout the firmware ships with.
func Default() Config {
	return Config{
		SectorSize:   2048,
		BlockCount:   5,
		HeaderBlocks: []uint32{0, 1},
		DataBlocks:   []uint32{2, 3, 4},
	}
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}

	return cfg, nil
}

// Parse decodes a TOML document. Keys that are not set keep their default.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	def := Default()
	if cfg.SectorSize == 0 {
		cfg.SectorSize = def.SectorSize
	}
	if len(cfg.HeaderBlocks) == 0 {
		cfg.HeaderBlocks = def.HeaderBlocks
	}
	if len(cfg.DataBlocks) == 0 {
		cfg.DataBlocks = def.DataBlocks
	}
	if cfg.BlockCount == 0 {
		cfg.BlockCount = cfg.minBlocks()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Marshal encodes cfg as TOML.
func (cfg Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(cfg)
	return data, errors.Wrap(err, "encode config")
}

// minBlocks is the smallest image that holds every configured block.
func (cfg Config) minBlocks() int {
	n := 0
	for _, id := range append(append([]uint32(nil), cfg.HeaderBlocks...), cfg.DataBlocks...) {
		if int(id) >= n {
			n = int(id) + 1
		}
	}
	return n
}

func (cfg Config) layout() flashblk.Layout {
	l := flashblk.Layout{
		BaseAddress: cfg.BaseAddress,
		SectorSize:  cfg.SectorSize,
	}
	for _, id := range cfg.HeaderBlocks {
		l.HeaderBlocks = append(l.HeaderBlocks, flashfs.BlockID(id))
	}
	for _, id := range cfg.DataBlocks {
		l.DataBlocks = append(l.DataBlocks, flashfs.BlockID(id))
	}
	return l
}

// Validate checks the layout and that the image is large enough for it.
func (cfg Config) Validate() error {
	if err := cfg.layout().Validate(); err != nil {
		return err
	}

	if cfg.BlockCount < cfg.minBlocks() {
		return errors.Errorf("conf: block_count %d is too small, the layout uses %d blocks", cfg.BlockCount, cfg.minBlocks())
	}

	if cfg.MaxFileSize > cfg.SectorSize {
		return errors.Errorf("conf: max_file_size %d exceeds sector_size %d", cfg.MaxFileSize, cfg.SectorSize)
	}

	return nil
}

// FSConfig returns the filesystem configuration for dev.
func (cfg Config) FSConfig(dev flashfs.Device, logger logrus.FieldLogger) logfs.Config {
	return logfs.Config{
		Layout:      cfg.layout(),
		Device:      dev,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	}
}
