package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var containerMagic = [4]byte{'M', 'V', '2', 0}

const (
	headerVersion = uint16(1)
	headerLen     = 40 // magic 4 + version 2 + flags 2 + uuid 16 + created 8 + reserved 8
)

type headerInfo struct {
	ID        uuid.UUID
	CreatedAt int64
}

func writeHeader(w io.Writer, info headerInfo) error {
	buf := make([]byte, headerLen)
	copy(buf[0:4], containerMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	// buf[6:8] flags, reserved
	copy(buf[8:24], info.ID[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(info.CreatedAt))
	// buf[32:40] reserved
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write container header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (headerInfo, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return headerInfo{}, fmt.Errorf("%w: short header: %w", ErrCorrupt, err)
	}
	if [4]byte(buf[0:4]) != containerMagic {
		return headerInfo{}, fmt.Errorf("%w: invalid header magic", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != headerVersion {
		return headerInfo{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	var info headerInfo
	copy(info.ID[:], buf[8:24])
	info.CreatedAt = int64(binary.LittleEndian.Uint64(buf[24:32]))
	return info, nil
}
