package nbdclient

import (
	"encoding/binary"
	"fmt"
	"io"
)

func (c *Client) nextHandle() uint64 {
	c.handle++
	return c.handle
}

func (c *Client) sendRequest(cmd uint16, flags uint16, offset uint64, length uint32, body []byte) error {
	var hdr [28]byte
	binary.BigEndian.PutUint32(hdr[0:4], requestMagic)
	binary.BigEndian.PutUint16(hdr[4:6], flags)
	binary.BigEndian.PutUint16(hdr[6:8], cmd)
	binary.BigEndian.PutUint64(hdr[8:16], c.handle)
	binary.BigEndian.PutUint64(hdr[16:24], offset)
	binary.BigEndian.PutUint32(hdr[24:28], length)
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := c.conn.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// readSimpleReply reads and validates a 16-byte simple-reply header and
// returns its error code (0 on success).
func (c *Client) readSimpleReply() (uint32, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return 0, err
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != simpleReplyMagic {
		return 0, fmt.Errorf("nbdclient: unexpected reply magic %#x", magic)
	}
	errno := binary.BigEndian.Uint32(hdr[4:8])
	handle := binary.BigEndian.Uint64(hdr[8:16])
	if handle != c.handle {
		return 0, fmt.Errorf("nbdclient: reply handle mismatch")
	}
	return errno, nil
}

func errnoError(errno uint32) error {
	if errno == 0 {
		return nil
	}
	return fmt.Errorf("nbdclient: server returned errno %d", errno)
}

// ReadAt reads len(buf) bytes from offset, matching the
// backend.Backend.ReadInto contract (full read or error, no short reads
// once the command succeeds, since NBD's simple reply carries the whole
// payload in one frame).
func (c *Client) ReadAt(buf []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle()
	if err := c.sendRequest(cmdRead, 0, uint64(offset), uint32(len(buf)), nil); err != nil {
		return 0, err
	}
	errno, err := c.readSimpleReply()
	if err != nil {
		return 0, err
	}
	if errno != 0 {
		return 0, errnoError(errno)
	}
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// WriteAt writes all of buf at offset.
func (c *Client) WriteAt(buf []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle()
	if err := c.sendRequest(cmdWrite, 0, uint64(offset), uint32(len(buf)), buf); err != nil {
		return 0, err
	}
	errno, err := c.readSimpleReply()
	if err != nil {
		return 0, err
	}
	if errno != 0 {
		return 0, errnoError(errno)
	}
	return len(buf), nil
}

// WriteZeroes zeroes n bytes at offset, using NBD_CMD_WRITE_ZEROES when
// the server advertises it and falling back to an explicit zero-filled
// WriteAt otherwise.
func (c *Client) WriteZeroes(offset int64, n int64) error {
	if !c.supportsWriteZeroes {
		return c.writeZeroesFallback(offset, n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle()
	if err := c.sendRequest(cmdWriteZeroes, 0, uint64(offset), uint32(n), nil); err != nil {
		return err
	}
	errno, err := c.readSimpleReply()
	if err != nil {
		return err
	}
	return errnoError(errno)
}

func (c *Client) writeZeroesFallback(offset, n int64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for n > 0 {
		step := int64(len(buf))
		if n < step {
			step = n
		}
		if _, err := c.WriteAt(buf[:step], offset); err != nil {
			return err
		}
		offset += step
		n -= step
	}
	return nil
}

// Flush issues NBD_CMD_FLUSH.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle()
	if err := c.sendRequest(cmdFlush, 0, 0, 0, nil); err != nil {
		return err
	}
	errno, err := c.readSimpleReply()
	if err != nil {
		return err
	}
	return errnoError(errno)
}

// Extent is one (length, kind) run reported by NBD_CMD_BLOCK_STATUS.
type Extent struct {
	Length int64
	// Flag is the raw per-context status bit: for base:allocation this is
	// stateHoleBit|stateZeroBit; for qemu:dirty-bitmap it's a single dirty
	// bit. Callers translate it using the context they asked for.
	Flag uint32
}

// BlockStatus queries contextName (MetaContextBaseAllocation or
// MetaContextDirtyBitmap) over [offset, offset+length) using a
// structured NBD_CMD_BLOCK_STATUS reply.
func (c *Client) BlockStatus(contextName string, offset, length int64) ([]Extent, error) {
	id, ok := c.metaContexts[contextName]
	if !ok {
		return nil, fmt.Errorf("nbdclient: meta context %q was not negotiated", contextName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle()
	if err := c.sendRequest(cmdBlockStatus, 0, uint64(offset), uint32(length), nil); err != nil {
		return nil, err
	}

	var extents []Extent
	for {
		chunk, done, err := c.readStructuredChunk()
		if err != nil {
			return nil, err
		}
		if chunk.repType == replyTypeError || chunk.repType == replyTypeErrorOffset {
			return nil, fmt.Errorf("nbdclient: block status error")
		}
		if chunk.repType == replyTypeBlockStatus && len(chunk.data) >= 4 {
			gotID := binary.BigEndian.Uint32(chunk.data[0:4])
			if gotID == id {
				for p := 4; p+8 <= len(chunk.data); p += 8 {
					l := binary.BigEndian.Uint32(chunk.data[p : p+4])
					flag := binary.BigEndian.Uint32(chunk.data[p+4 : p+8])
					extents = append(extents, Extent{Length: int64(l), Flag: flag})
				}
			}
		}
		if done {
			break
		}
	}
	return extents, nil
}

type structuredChunk struct {
	repType uint16
	data    []byte
}

func (c *Client) readStructuredChunk() (structuredChunk, bool, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return structuredChunk{}, false, err
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != structuredReplyMagic {
		return structuredChunk{}, false, fmt.Errorf("nbdclient: unexpected structured reply magic %#x", magic)
	}
	flags := binary.BigEndian.Uint16(hdr[4:6])
	repType := binary.BigEndian.Uint16(hdr[6:8])
	handle := binary.BigEndian.Uint64(hdr[8:16])
	if handle != c.handle {
		return structuredChunk{}, false, fmt.Errorf("nbdclient: reply handle mismatch")
	}
	length := binary.BigEndian.Uint32(hdr[16:20])
	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.conn, data); err != nil {
			return structuredChunk{}, false, err
		}
	}
	done := flags&replyFlagDone != 0
	return structuredChunk{repType: repType, data: data}, done, nil
}
