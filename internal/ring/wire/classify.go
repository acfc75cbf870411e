package wire

import "errors"

// ErrUnknownKind is returned by Codec.Decode when the decoded envelope
// names a Kind outside the closed set.
var ErrUnknownKind = errors.New("wire: unknown message kind")

// ErrShortFrame is returned by ReadFrame when the stream closes part-way
// through a frame; a stream that closes between frames yields io.EOF.
var ErrShortFrame = errors.New("wire: short frame")

// ErrBadMagic is returned when a peer's magic-header handshake bytes
// don't match MagicHeader.
var ErrBadMagic = errors.New("wire: bad magic header")

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize, guarding against a corrupt or hostile length prefix
// driving an unbounded allocation.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
