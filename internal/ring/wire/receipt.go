package wire

import (
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

// Receipt is a single-byte response code, sent on a dedicated receipt
// read outside the codec framing.
type Receipt byte

const (
	ReceiptOK               Receipt = 0x01
	ReceiptDuplicateID      Receipt = 0x02
	ReceiptAuthFail         Receipt = 0x03
	ReceiptVersionCheckFail Receipt = 0x04
	ReceiptReconnect        Receipt = 0x05
)

func (r Receipt) String() string {
	switch r {
	case ReceiptOK:
		return "OK"
	case ReceiptDuplicateID:
		return "DUPLICATE_ID"
	case ReceiptAuthFail:
		return "AUTH_FAIL"
	case ReceiptVersionCheckFail:
		return "VERSION_CHECK_FAIL"
	case ReceiptReconnect:
		return "RECONNECT"
	default:
		return fmt.Sprintf("Receipt(%#02x)", byte(r))
	}
}

// WriteReceipt writes a single receipt byte to w.
func WriteReceipt(w io.Writer, r Receipt) error {
	_, err := w.Write([]byte{byte(r)})
	return err
}

// ReadReceipt reads a single receipt byte from r.
func ReadReceipt(r io.Reader) (Receipt, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return Receipt(buf[0]), nil
}

// ReceiptForError maps a Handler's rejection of an admission message to
// its wire receipt code: DuplicateId,
// AuthFailed, and VersionIncompatible are each fatal to the joiner and
// carry their own receipt code; every other handler error is a
// protocol-level rejection with no dedicated code, so it receives
// AUTH_FAIL, the generic "rejected" receipt, rather than OK.
func ReceiptForError(err error) Receipt {
	switch {
	case err == nil:
		return ReceiptOK
	case errdefs.IsAlreadyExists(err):
		return ReceiptDuplicateID
	case errdefs.IsFailedPrecondition(err):
		return ReceiptVersionCheckFail
	case errdefs.IsPermissionDenied(err):
		return ReceiptAuthFail
	default:
		return ReceiptAuthFail
	}
}
