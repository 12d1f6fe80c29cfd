package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// appendFile writes whole lines to a file opened for appending. A write that
// fails is cut back to the last good offset, so a later write can succeed
// and never lands behind a torn line.
type appendFile struct {
	file  *os.File
	w     io.Writer
	size  int64
	dirty bool
}

func newAppendFile(path string) (*appendFile, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &appendFile{file: file, w: file, size: info.Size()}, nil
}

// writeLine appends p, which must end in a newline, and syncs it.
func (a *appendFile) writeLine(p []byte) error {
	if a.dirty {
		if err := a.rollback(); err != nil {
			return err
		}
	}
	n, err := a.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = a.file.Sync()
	}
	if err != nil {
		a.dirty = true
		if rerr := a.rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	a.size += int64(len(p))
	return nil
}

func (a *appendFile) rollback() error {
	if err := a.file.Truncate(a.size); err != nil {
		return fmt.Errorf("trim partial line: %w", err)
	}
	a.dirty = false
	return nil
}

func (a *appendFile) Close() error {
	return a.file.Close()
}

// openAppend opens path for appending and terminates a torn last line so the
// next write starts on a fresh row.
func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		return file, nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		_ = file.Close()
		return nil, err
	}
	if last[0] != '\n' {
		if _, err := file.Write([]byte{'\n'}); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return file, nil
}
