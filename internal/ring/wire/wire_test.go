package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestHandshakeRoundTrip(t *testing.T) {
	// io.Pipe blocks each read until the other side writes, as a socket
	// would; a bytes.Buffer reports EOF while still empty.
	respFromInit, initToResp := io.Pipe()
	initFromResp, respToInit := io.Pipe()

	initiatorConn := rwPair{r: initFromResp, w: initToResp}
	responderConn := rwPair{r: respFromInit, w: respToInit}

	done := make(chan error, 1)
	go func() { done <- HandshakeRespond(responderConn) }()

	assert.NilError(t, HandshakeInitiate(initiatorConn))
	assert.NilError(t, <-done)
}

type rwPair struct {
	r io.Reader
	w io.Writer
}

func (p rwPair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p rwPair) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestReadMagicRejectsBadHeader(t *testing.T) {
	buf := bytes.NewBufferString("xxxx")
	err := ReadMagic(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestFrameRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	body := []byte("hello ring")
	assert.NilError(t, WriteFrame(buf, body))

	got, err := ReadFrame(buf)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, body)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := &bytes.Buffer{}
	lenBuf := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(lenBuf)

	_, err := ReadFrame(buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec{}
	envelope := Envelope{
		ID:      uuid.New(),
		Kind:    KindHeartbeat,
		Creator: uuid.New(),
		Payload: HeartbeatPayload{SenderID: uuid.New(), Metrics: map[uuid.UUID]NodeMetric{}},
	}

	encoded, err := codec.Encode(envelope)
	assert.NilError(t, err)

	decoded, err := codec.Decode(encoded)
	assert.NilError(t, err)
	assert.Equal(t, decoded.ID, envelope.ID)
	assert.Equal(t, decoded.Kind, envelope.Kind)

	var payload HeartbeatPayload
	assert.NilError(t, DecodePayload(decoded, &payload))
	assert.Equal(t, payload.SenderID, envelope.Payload.(HeartbeatPayload).SenderID)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	codec := JSONCodec{}
	_, err := codec.Decode([]byte(`{"id":"` + uuid.New().String() + `","kind":"Bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEnsureDeliveryTable(t *testing.T) {
	assert.Assert(t, EnsureDelivery(KindNodeAdded))
	assert.Assert(t, EnsureDelivery(KindCustomEvent))
	assert.Assert(t, !EnsureDelivery(KindHeartbeat))
	assert.Assert(t, !EnsureDelivery(KindJoinRequest))
}

func TestWriteReadMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	codec := JSONCodec{}
	envelope := Envelope{ID: uuid.New(), Kind: KindStatusCheck, Payload: StatusCheckPayload{TargetID: uuid.New()}}

	assert.NilError(t, WriteMessage(buf, codec, envelope))
	got, err := ReadMessage(buf, codec)
	assert.NilError(t, err)
	assert.Equal(t, got.ID, envelope.ID)
}
