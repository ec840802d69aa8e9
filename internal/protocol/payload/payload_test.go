package payload

import (
	"errors"
	"testing"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
)

func frameOf(pt protocol.PacketType, id uint32, body []byte) frame.Frame {
	b := frame.Marshal(frame.Frame{Header: frame.Header{PacketType: pt, PacketID: id}, Payload: body})
	f, err := frame.Decode(b)
	if err != nil {
		panic(err)
	}
	return f
}

func TestDecodeTypedVariants(t *testing.T) {
	cases := []Payload{
		Ack{OriginalID: 11, ResponseCode: protocol.ResponseInvalidCommand, Message: "no such script"},
		Ack{OriginalID: 12, ResponseCode: protocol.ResponseSuccess},
		Complete{Code: 0, Message: "script 1 finished"},
		Complete{Code: 2},
		Identity{MachineID: 0xC0FFEE},
		Control{Code: protocol.ControlRelease, Message: "operator released"},
	}
	for _, in := range cases {
		f := frameOf(in.PacketType(), 1, Encode(in))
		out, err := DecodeTyped(f)
		if err != nil {
			t.Fatalf("decode %T: %v", in, err)
		}
		if out != in {
			t.Fatalf("mismatch: got=%+v want=%+v", out, in)
		}
	}
}

func TestDecodeTypedRawFallback(t *testing.T) {
	for _, pt := range []protocol.PacketType{protocol.TypeScript, protocol.TypeMessage, protocol.PacketType(200)} {
		f := frameOf(pt, 3, []byte{9, 8, 7})
		p, err := DecodeTyped(f)
		if err != nil {
			t.Fatalf("raw fallback for %s: %v", pt, err)
		}
		raw, ok := p.(Raw)
		if !ok || raw.Type != pt || string(raw.Bytes) != string([]byte{9, 8, 7}) {
			t.Fatalf("unexpected payload %+v", p)
		}
	}
}

func TestDecodeTypedMalformedNamesField(t *testing.T) {
	cases := []struct {
		pt    protocol.PacketType
		body  []byte
		field string
	}{
		{protocol.TypeAck, []byte{0, 0}, "original_id"},
		{protocol.TypeAck, []byte{0, 0, 0, 1, 0, 0}, "response_code"},
		{protocol.TypeAck, []byte{0, 0, 0, 1, 0, 0, 0, 0, 0xFF}, "message"},
		{protocol.TypeComplete, []byte{0}, "code"},
		{protocol.TypeComplete, []byte{0, 0, 0, 0, 0}, "message_length"},
		{protocol.TypeComplete, []byte{0, 0, 0, 0, 0, 0, 0, 9, 'h', 'i'}, "message"},
		{protocol.TypeIdentity, []byte{1, 2, 3}, "machine_id"},
		{protocol.TypeControl, nil, "control_code"},
		{protocol.TypeControl, []byte{0, 0, 0, 1, 'o', 0xC3, 0x28}, "message"},
	}
	for _, tc := range cases {
		_, err := DecodeTyped(frameOf(tc.pt, 1, tc.body))
		var me *MalformedError
		if !errors.As(err, &me) {
			t.Fatalf("%s: expected MalformedError, got %v", tc.pt, err)
		}
		if me.Type != tc.pt || me.Field != tc.field {
			t.Fatalf("%s: got type=%s field=%s want field=%s", tc.pt, me.Type, me.Field, tc.field)
		}
		if !errors.Is(err, delphyerr.ErrPacket) {
			t.Fatalf("%s: expected packet error kind", tc.pt)
		}
	}
}

func TestExpectRequiresKnownType(t *testing.T) {
	ack := frameOf(protocol.TypeAck, 1, Encode(Ack{OriginalID: 1}))
	if _, err := Expect(ack, protocol.TypeAck); err != nil {
		t.Fatalf("expect ack: %v", err)
	}

	unknown := frameOf(protocol.PacketType(99), 1, nil)
	if _, err := Expect(unknown, protocol.TypeAck); !errors.Is(err, delphyerr.ErrUnknownResponse) {
		t.Fatalf("expected UnknownResponse for unknown frame type, got %v", err)
	}
	if _, err := Expect(ack, protocol.PacketType(99)); !errors.Is(err, delphyerr.ErrUnknownResponse) {
		t.Fatalf("expected UnknownResponse for unknown wanted type, got %v", err)
	}
	if _, err := Expect(ack, protocol.TypeComplete); !errors.Is(err, delphyerr.ErrUnknownResponse) {
		t.Fatalf("expected UnknownResponse for type mismatch, got %v", err)
	}
}

func TestAckSuccess(t *testing.T) {
	if !(Ack{ResponseCode: protocol.ResponseSuccess}).Success() {
		t.Fatalf("SUCCESS must be success")
	}
	if (Ack{ResponseCode: protocol.ResponseTimeout}).Success() {
		t.Fatalf("TIMEOUT must not be success")
	}
}
