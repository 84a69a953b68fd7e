package logfs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keks/flashfs"
)

// Optimize writes a new generation that holds only the live files and
// retires the current one. Ids are renumbered from 1 in id order.
//
// The new header is committed by its final write. Until then the current
// generation stays authoritative, so an interrupted Optimize is simply run
// again after the next mount.
func (fs *FS) Optimize() error {
	if !fs.valid {
		return ErrNotMounted
	}

	serial, err := fs.nextSerial()
	if err != nil {
		return err
	}

	next := (fs.active + 1) % len(fs.header)
	hblk := fs.header[next]
	if err := hblk.EnsureErased(); err != nil {
		return errors.Wrap(err, "prepare header block")
	}

	old := fs.dlog
	start := old.index(old.used)
	dst := newDataLog(fs.data, start, len(fs.data)-old.used)
	if err := dst.current().EnsureErased(); err != nil {
		return errors.Wrap(err, "prepare data block")
	}

	hlog := newHeaderLog(hblk)
	live := fs.table.live()
	for i, e := range live {
		id := flashfs.FileID(i + 1)

		data, err := old.read(e.addr, e.size)
		if err != nil {
			return errors.Wrapf(err, "copy %q", e.name)
		}

		addr, err := dst.append(data)
		if err != nil {
			return errors.Wrapf(err, "copy %q", e.name)
		}

		if err := hlog.append(Record{State: StateIdentity, ID: id, Name: e.name}); err != nil {
			return errors.Wrapf(err, "copy %q", e.name)
		}

		if err := hlog.append(Record{State: StateVersion, ID: id, Addr: addr, Size: e.size}); err != nil {
			return errors.Wrapf(err, "copy %q", e.name)
		}
	}

	if err := writeHeader(hblk, serial, uint8(start)); err != nil {
		return errors.Wrap(err, "commit header")
	}

	prevHeader := fs.header[fs.active]
	prevSerial := fs.serial

	hdr := fsHeader{
		headerHead: headerHead{MagicStart: magicStart, Serial: serial, DataStart: uint8(start)},
		MagicEnd:   magicEnd,
	}
	fs.needsOpt = false
	if err := fs.load(next, hdr); err != nil {
		return err
	}

	fs.stats.Compactions++
	fs.log.WithFields(logrus.Fields{
		"serial": serial,
		"files":  len(live),
		"block":  hblk.ID(),
	}).Info("logfs: optimized")

	if err := prevHeader.Erase(); err != nil {
		return errors.Wrapf(err, "retire generation %d", prevSerial)
	}

	for i := 0; i < old.used; i++ {
		if err := old.block(i).Erase(); err != nil {
			return errors.Wrapf(err, "retire generation %d", prevSerial)
		}
	}

	return nil
}
