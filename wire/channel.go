package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/krishnasharma0101/pycluster/msg"
)

// Maximum ciphertext length accepted in a single frame.
const maxFrameSize = 16 << 20

// ErrConnectionClosed is returned when the peer closes the connection
// before a full frame could be read or written.
var ErrConnectionClosed = errors.New("wire: connection closed")

// Channel is a framed, encrypted message channel over a connected byte
// stream. One frame on the wire is a 4-byte big-endian ciphertext length
// followed by the ciphertext. The frame plaintext is the canonical JSON
// encoding produced by the msg package.
//
// Sends are serialized internally, so a Channel may be written from more
// than one goroutine. Receives must come from a single goroutine.
type Channel struct {
	conn net.Conn

	mu     sync.Mutex
	cipher *Cipher
}

// NewChannel wraps conn with framing and encryption under key.
func NewChannel(conn net.Conn, key []byte) (*Channel, error) {
	cipher, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Channel{conn: conn, cipher: cipher}, nil
}

// Rekey rotates the channel's key. Only frames sent or received after the
// call use the new key.
func (ch *Channel) Rekey(key []byte) error {
	cipher, err := NewCipher(key)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.cipher = cipher
	ch.mu.Unlock()
	return nil
}

// Send serializes, encrypts and writes one message as a single frame.
func (ch *Channel) Send(m msg.Message) error {
	plaintext, err := msg.Marshal(m)
	if err != nil {
		return err
	}
	return ch.SendRaw(plaintext)
}

// SendRaw encrypts and writes one frame carrying the given plaintext bytes.
// Used by the file transfer utility for bulk chunks.
func (ch *Channel) SendRaw(plaintext []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ciphertext, err := ch.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(ciphertext))
	binary.BigEndian.PutUint32(frame, uint32(len(ciphertext)))
	copy(frame[4:], ciphertext)
	if _, err := ch.conn.Write(frame); err != nil {
		return closedOr(err)
	}
	return nil
}

// Receive reads one frame, decrypts it and deserializes the message. It
// blocks until a full frame is available and returns ErrConnectionClosed if
// the peer closes first. An unknown message type surfaces as
// *msg.UnknownTypeError; callers that want to skip such messages can test
// for it and continue receiving.
func (ch *Channel) Receive() (msg.Message, error) {
	plaintext, err := ch.ReceiveRaw()
	if err != nil {
		return nil, err
	}
	return msg.Unmarshal(plaintext)
}

// ReceiveRaw reads and decrypts one frame without deserializing it.
func (ch *Channel) ReceiveRaw() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(ch.conn, lenBuf[:]); err != nil {
		return nil, closedOr(err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errors.New("wire: frame exceeds maximum size")
	}
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(ch.conn, ciphertext); err != nil {
		return nil, closedOr(err)
	}

	ch.mu.Lock()
	cipher := ch.cipher
	ch.mu.Unlock()
	return cipher.Decrypt(ciphertext)
}

// SetReadDeadline bounds the next Receive.
func (ch *Channel) SetReadDeadline(t time.Time) error {
	return ch.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds the next Send.
func (ch *Channel) SetWriteDeadline(t time.Time) error {
	return ch.conn.SetWriteDeadline(t)
}

// Close closes the underlying connection, unblocking any pending Receive
// with ErrConnectionClosed.
func (ch *Channel) Close() error {
	return ch.conn.Close()
}

func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}
