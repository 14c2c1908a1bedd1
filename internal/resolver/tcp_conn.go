package resolver

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/codec"
)

const tcpConnectTimeout = 5 * time.Second

// tcpConnection is one lazily-opened, persistently multiplexed stream to a
// server (§4.4). Go's net.Conn is blocking, so the length-prefix framer the
// design describes as an explicit current-frame-length/rolling-buffer state
// machine is expressed here as sequential io.ReadFull calls on a single
// reader goroutine — the same "dispatch a complete frame, then read the next
// length prefix" behavior, idiomatic for Go's I/O model instead of mimicking
// non-blocking partial reads.
type tcpConnection struct {
	endpoint string
	conn     net.Conn
	writeCh  chan []byte
	done     chan struct{}
}

// dialTCPConnection opens a fresh TCP connection to endpoint with a 5s
// connect timeout and starts its reader/writer goroutines. Writes preserve
// application order: they're serialized through a single channel drained by
// one writer goroutine, per §5's FIFO-into-the-stream guarantee.
func dialTCPConnection(endpoint string, logger *zap.Logger, c codec.Codec, reqTable *RequestTable, registry *Registry) (*tcpConnection, error) {
	conn, err := net.DialTimeout("tcp", endpoint, tcpConnectTimeout)
	if err != nil {
		return nil, err
	}
	t := &tcpConnection{
		endpoint: endpoint,
		conn:     conn,
		writeCh:  make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go t.writeLoop(logger)
	go t.readLoop(logger, c, reqTable, registry)
	return t, nil
}

func (t *tcpConnection) Send(data []byte) error {
	framed := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(framed, uint16(len(data)))
	copy(framed[2:], data)
	select {
	case t.writeCh <- framed:
		return nil
	case <-t.done:
		return resolutionErrorf("TCP connection to %s is closed", t.endpoint)
	}
}

func (t *tcpConnection) close() {
	select {
	case <-t.done:
		return
	default:
	}
	close(t.done)
	_ = t.conn.Close()
}

func (t *tcpConnection) writeLoop(logger *zap.Logger) {
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.writeCh:
			if _, err := t.conn.Write(frame); err != nil {
				logger.Debug("TCP write failed", zap.String("endpoint", t.endpoint), zap.Error(err))
				t.close()
				return
			}
		}
	}
}

// readLoop dispatches one complete frame at a time. A closed connection or a
// zero-length read is a fatal connection error: every outstanding request on
// this server fails (§4.4).
func (t *tcpConnection) readLoop(logger *zap.Logger, c codec.Codec, reqTable *RequestTable, registry *Registry) {
	lengthBuf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(t.conn, lengthBuf); err != nil {
			t.fail(logger, registry, err)
			return
		}
		frameLen := binary.BigEndian.Uint16(lengthBuf)
		if frameLen == 0 {
			t.fail(logger, registry, resolutionErrorf("zero-length TCP frame from %s", t.endpoint))
			return
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(t.conn, frame); err != nil {
			t.fail(logger, registry, err)
			return
		}
		msg, err := c.Decode(frame)
		if err != nil {
			t.fail(logger, registry, err)
			return
		}
		reqTable.Deliver(msg)
	}
}

func (t *tcpConnection) fail(logger *zap.Logger, registry *Registry, err error) {
	logger.Debug("TCP connection failed", zap.String("endpoint", t.endpoint), zap.Error(err))
	registry.Unload(t.endpoint, err)
}
