package nbdclient

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

const optReplyMagic uint64 = 0x3e889045565a9

// fakeServer drives the server side of a net.Pipe connection through the
// fixed-newstyle handshake and NBD_OPT_GO negotiation, then answers a
// single transmission-phase command with the given errno/payload.
type fakeServer struct {
	conn net.Conn
	size int64
}

func startFakeServer(t *testing.T, flags uint16) (*Client, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	srv := &fakeServer{conn: serverConn, size: 65536}

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handshake(t, flags)
	}()

	c, err := NewClient(clientConn, DialOptions{ExportName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	return c, srv
}

func (s *fakeServer) handshake(t *testing.T, flags uint16) {
	t.Helper()
	var hello [18]byte
	binary.BigEndian.PutUint64(hello[0:8], nbdMagic)
	binary.BigEndian.PutUint64(hello[8:16], ihaveoptMagic)
	binary.BigEndian.PutUint16(hello[16:18], handshakeFlagFixedNewstyle)
	if _, err := s.conn.Write(hello[:]); err != nil {
		t.Error(err)
		return
	}

	var clientFlags [4]byte
	if _, err := readFull(s.conn, clientFlags[:]); err != nil {
		t.Error(err)
		return
	}

	// NBD_OPT_GO request.
	var optHdr [16]byte
	if _, err := readFull(s.conn, optHdr[:]); err != nil {
		t.Error(err)
		return
	}
	length := binary.BigEndian.Uint32(optHdr[12:16])
	body := make([]byte, length)
	if _, err := readFull(s.conn, body); err != nil {
		t.Error(err)
		return
	}

	infoData := make([]byte, 12)
	binary.BigEndian.PutUint16(infoData[0:2], infoExport)
	binary.BigEndian.PutUint64(infoData[2:10], uint64(s.size))
	binary.BigEndian.PutUint16(infoData[10:12], flags)
	s.sendOptReply(t, optGo, repInfo, infoData)
	s.sendOptReply(t, optGo, repAck, nil)
}

func (s *fakeServer) sendOptReply(t *testing.T, opt, repType uint32, data []byte) {
	t.Helper()
	var hdr [20]byte
	binary.BigEndian.PutUint64(hdr[0:8], optReplyMagic)
	binary.BigEndian.PutUint32(hdr[8:12], opt)
	binary.BigEndian.PutUint32(hdr[12:16], repType)
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(data)))
	if _, err := s.conn.Write(hdr[:]); err != nil {
		t.Error(err)
		return
	}
	if len(data) > 0 {
		if _, err := s.conn.Write(data); err != nil {
			t.Error(err)
		}
	}
}

// answerOneCommand reads one 28-byte request header and replies with a
// simple reply carrying errno and payload.
func (s *fakeServer) answerOneCommand(t *testing.T, errno uint32, payload []byte) (cmd uint16, reqOffset uint64, reqLength uint32) {
	t.Helper()
	var hdr [28]byte
	if _, err := readFull(s.conn, hdr[:]); err != nil {
		t.Error(err)
		return
	}
	cmd = binary.BigEndian.Uint16(hdr[6:8])
	handle := binary.BigEndian.Uint64(hdr[8:16])
	reqOffset = binary.BigEndian.Uint64(hdr[16:24])
	reqLength = binary.BigEndian.Uint32(hdr[24:28])
	if cmd == cmdWrite {
		body := make([]byte, reqLength)
		if _, err := readFull(s.conn, body); err != nil {
			t.Error(err)
			return
		}
	}

	var reply [16]byte
	binary.BigEndian.PutUint32(reply[0:4], simpleReplyMagic)
	binary.BigEndian.PutUint32(reply[4:8], errno)
	binary.BigEndian.PutUint64(reply[8:16], handle)
	if _, err := s.conn.Write(reply[:]); err != nil {
		t.Error(err)
		return
	}
	if errno == 0 && len(payload) > 0 {
		if _, err := s.conn.Write(payload); err != nil {
			t.Error(err)
		}
	}
	return
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestNewClientNegotiatesSizeAndFlags(t *testing.T) {
	flags := transmissionFlagHasFlags | transmissionFlagSendFlush | transmissionFlagSendWriteZeroes
	c, srv := startFakeServer(t, flags)
	defer srv.conn.Close()

	if c.Size() != 65536 {
		t.Fatalf("expected negotiated size 65536, got %d", c.Size())
	}
	if !c.SupportsFlush() {
		t.Fatal("expected SupportsFlush to be true")
	}
	if !c.SupportsZeroes() {
		t.Fatal("expected SupportsZeroes to be true")
	}
	if c.ReadOnly() {
		t.Fatal("expected ReadOnly to be false")
	}
}

func TestReadAtReturnsServerPayload(t *testing.T) {
	c, srv := startFakeServer(t, 0)
	defer srv.conn.Close()

	want := []byte("imageio-payload!")
	resultCh := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		buf := make([]byte, len(want))
		n, err := c.ReadAt(buf, 1024)
		resultCh <- struct {
			n   int
			err error
		}{n, err}
		if err == nil && string(buf) != string(want) {
			t.Errorf("got payload %q, want %q", buf, want)
		}
	}()

	cmd, offset, length := srv.answerOneCommand(t, 0, want)
	if cmd != cmdRead {
		t.Fatalf("expected cmdRead, got %d", cmd)
	}
	if offset != 1024 || int(length) != len(want) {
		t.Fatalf("got offset=%d length=%d, want offset=1024 length=%d", offset, length, len(want))
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatal(res.err)
		}
		if res.n != len(want) {
			t.Fatalf("expected n=%d, got %d", len(want), res.n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadAt did not return in time")
	}
}

func TestWriteAtSendsPayloadAndReportsErrno(t *testing.T) {
	c, srv := startFakeServer(t, 0)
	defer srv.conn.Close()

	payload := []byte("some bytes to write")
	errCh := make(chan error, 1)
	go func() {
		_, err := c.WriteAt(payload, 2048)
		errCh <- err
	}()

	cmd, offset, length := srv.answerOneCommand(t, 0, nil)
	if cmd != cmdWrite {
		t.Fatalf("expected cmdWrite, got %d", cmd)
	}
	if offset != 2048 || int(length) != len(payload) {
		t.Fatalf("got offset=%d length=%d", offset, length)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WriteAt did not return in time")
	}
}

func TestFlushPropagatesServerErrno(t *testing.T) {
	c, srv := startFakeServer(t, 0)
	defer srv.conn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Flush() }()

	srv.answerOneCommand(t, 5, nil) // EIO

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected Flush to report the server's nonzero errno as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return in time")
	}
}
