package wire

import (
	"encoding/binary"
	"io"
)

// MagicHeader is the 4-byte constant every connection initiator writes
// before any handshake bytes; the responder echoes it back.
var MagicHeader = [4]byte{'R', 'N', 'G', 1}

// MaxFrameSize bounds a single frame's declared body length, guarding
// against a corrupt length prefix driving an unbounded read.
const MaxFrameSize = 16 * 1024 * 1024

// WriteMagic writes MagicHeader to w.
func WriteMagic(w io.Writer) error {
	_, err := w.Write(MagicHeader[:])
	return err
}

// ReadMagic reads 4 bytes from r and verifies they equal MagicHeader.
func ReadMagic(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if buf != MagicHeader {
		return ErrBadMagic
	}
	return nil
}

// HandshakeInitiate performs the initiator side of the connection
// handshake: write our magic header, then read and verify the peer's.
func HandshakeInitiate(rw io.ReadWriter) error {
	if err := WriteMagic(rw); err != nil {
		return err
	}
	return ReadMagic(rw)
}

// HandshakeRespond performs the responder side: read and verify the
// peer's magic header, then write our own.
func HandshakeRespond(rw io.ReadWriter) error {
	if err := ReadMagic(rw); err != nil {
		return err
	}
	return WriteMagic(rw)
}

// WriteFrame writes body as a length-prefixed frame: a 4-byte
// big-endian length followed by body itself.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return body, nil
}

// WriteMessage encodes e with codec and writes it as a framed body.
func WriteMessage(w io.Writer, codec Codec, e Envelope) error {
	body, err := codec.Encode(e)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadMessage reads one framed body from r and decodes it with codec.
func ReadMessage(r io.Reader, codec Codec) (Envelope, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return codec.Decode(body)
}
