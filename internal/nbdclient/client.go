package nbdclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// Client is a connected, negotiated NBD session against a single export.
// Exactly one command may be in flight at a time (serialized by mu);
// concurrent callers (e.g. the copy engine's cloned backends) should each
// own their own Client rather than share one, matching spec.md §4.2's
// per-backend concurrency hints.
type Client struct {
	conn   net.Conn
	mu     sync.Mutex
	handle uint64

	size               int64
	readOnly           bool
	supportsFlush      bool
	supportsTrim       bool
	supportsWriteZeroes bool

	metaContexts map[string]uint32 // context name -> negotiated id
}

// DialOptions configures a Dial call.
type DialOptions struct {
	// ExportName is the NBD export to request via NBD_OPT_GO.
	ExportName string
	// MetaContexts are the block-status contexts to negotiate
	// (MetaContextBaseAllocation, MetaContextDirtyBitmap); absent ones are
	// silently not granted and BlockStatus(ctx) fails for them.
	MetaContexts []string
}

// Dial connects to addr (passed to net.Dial as-is, so "unix" and "tcp"
// both work) and performs the fixed-newstyle handshake plus NBD_OPT_GO
// export negotiation.
func Dial(network, addr string, opts DialOptions) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts)
}

// NewClient performs the fixed-newstyle handshake over an already
// connected transport (a plain net.Conn for "nbd://", a *tls.Conn for
// "nbds://"); it takes ownership of conn and closes it on handshake
// failure.
func NewClient(conn net.Conn, opts DialOptions) (*Client, error) {
	c := &Client{conn: conn, metaContexts: make(map[string]uint32)}
	if err := c.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(opts DialOptions) error {
	var hdr [18]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return fmt.Errorf("nbdclient: reading server hello: %w", err)
	}
	if binary.BigEndian.Uint64(hdr[0:8]) != nbdMagic || binary.BigEndian.Uint64(hdr[8:16]) != ihaveoptMagic {
		return fmt.Errorf("nbdclient: bad handshake magic")
	}
	serverFlags := binary.BigEndian.Uint16(hdr[16:18])
	if serverFlags&handshakeFlagFixedNewstyle == 0 {
		return fmt.Errorf("nbdclient: server does not support fixed newstyle negotiation")
	}

	clientFlags := clientFlagFixedNewstyle | clientFlagNoZeroes
	if err := binary.Write(c.conn, binary.BigEndian, clientFlags); err != nil {
		return err
	}

	if len(opts.MetaContexts) > 0 {
		if err := c.negotiateMetaContexts(opts.ExportName, opts.MetaContexts); err != nil {
			// Meta context negotiation is best-effort: the server may not
			// support NBD_OPT_SET_META_CONTEXT at all. Block status queries
			// against these contexts will fail later; everything else
			// still works.
			c.metaContexts = make(map[string]uint32)
		}
	}

	return c.negotiateGo(opts.ExportName)
}

func (c *Client) sendOption(opt uint32, data []byte) error {
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[0:8], ihaveoptMagic)
	binary.BigEndian.PutUint32(hdr[8:12], opt)
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(data)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := c.conn.Write(data); err != nil {
			return err
		}
	}
	return nil
}

type optReply struct {
	opt     uint32
	repType uint32
	data    []byte
}

func (c *Client) readOptReply() (optReply, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return optReply{}, err
	}
	const optReplyMagic uint64 = 0x3e889045565a9
	if binary.BigEndian.Uint64(hdr[0:8]) != optReplyMagic {
		return optReply{}, fmt.Errorf("nbdclient: bad option reply magic")
	}
	opt := binary.BigEndian.Uint32(hdr[8:12])
	repType := binary.BigEndian.Uint32(hdr[12:16])
	length := binary.BigEndian.Uint32(hdr[16:20])
	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.conn, data); err != nil {
			return optReply{}, err
		}
	}
	return optReply{opt: opt, repType: repType, data: data}, nil
}

func (c *Client) negotiateMetaContexts(exportName string, contexts []string) error {
	var buf []byte
	buf = appendUint32(buf, uint32(len(exportName)))
	buf = append(buf, exportName...)
	buf = appendUint32(buf, uint32(len(contexts)))
	for _, ctx := range contexts {
		buf = appendUint32(buf, uint32(len(ctx)))
		buf = append(buf, ctx...)
	}
	if err := c.sendOption(optSetMetaContext, buf); err != nil {
		return err
	}
	for {
		reply, err := c.readOptReply()
		if err != nil {
			return err
		}
		switch reply.repType {
		case repMetaContext:
			if len(reply.data) < 4 {
				continue
			}
			id := binary.BigEndian.Uint32(reply.data[0:4])
			name := string(reply.data[4:])
			c.metaContexts[name] = id
		case repAck:
			return nil
		default:
			if reply.repType&repErrBase != 0 {
				return fmt.Errorf("nbdclient: meta context negotiation refused")
			}
		}
	}
}

func (c *Client) negotiateGo(exportName string) error {
	var buf []byte
	buf = appendUint32(buf, uint32(len(exportName)))
	buf = append(buf, exportName...)
	buf = appendUint16(buf, 0) // zero information requests
	if err := c.sendOption(optGo, buf); err != nil {
		return err
	}
	for {
		reply, err := c.readOptReply()
		if err != nil {
			return err
		}
		switch reply.repType {
		case repInfo:
			if len(reply.data) < 2 {
				continue
			}
			infoType := binary.BigEndian.Uint16(reply.data[0:2])
			if infoType == infoExport && len(reply.data) >= 12 {
				c.size = int64(binary.BigEndian.Uint64(reply.data[2:10]))
				flags := binary.BigEndian.Uint16(reply.data[10:12])
				c.readOnly = flags&transmissionFlagReadOnly != 0
				c.supportsFlush = flags&transmissionFlagSendFlush != 0
				c.supportsTrim = flags&transmissionFlagSendTrim != 0
				c.supportsWriteZeroes = flags&transmissionFlagSendWriteZeroes != 0
			}
		case repAck:
			return nil
		default:
			if reply.repType&repErrBase != 0 {
				return fmt.Errorf("nbdclient: export %q rejected by server", exportName)
			}
		}
	}
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func (c *Client) Size() int64           { return c.size }
func (c *Client) ReadOnly() bool        { return c.readOnly }
func (c *Client) SupportsFlush() bool   { return c.supportsFlush }
func (c *Client) SupportsTrim() bool    { return c.supportsTrim }
func (c *Client) SupportsZeroes() bool  { return c.supportsWriteZeroes }
func (c *Client) HasContext(name string) bool {
	_, ok := c.metaContexts[name]
	return ok
}

// Close sends NBD_CMD_DISC and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sendRequest(cmdDisc, 0, 0, 0, nil)
	return c.conn.Close()
}
