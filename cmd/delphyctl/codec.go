package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/legacy"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/urfave/cli/v2"
)

func encodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Encode one frame and print it as hex",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "packet type name or number", Required: true},
			&cli.UintFlag{Name: "id", Usage: "packet id", Value: 1},
			&cli.Float64Flag{Name: "session-time", Usage: "session time in seconds"},
			&cli.StringFlag{Name: "payload", Usage: "payload bytes as hex"},
		},
		Action: encodeAction,
	}
}

func encodeAction(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	pt, err := parsePacketType(c.String("type"))
	if err != nil {
		return err
	}
	body, err := decodeHex(c.String("payload"))
	if err != nil {
		return err
	}
	codec := frame.NewCodec(rt.logger)
	codec.Limits = rt.cfg.SessionConfig().Limits
	b, err := codec.Encode(pt, uint32(c.Uint("id")), c.Float64("session-time"), body)
	if err != nil {
		return delphyerr.Handle(rt.logger, err)
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(b))
	return nil
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a hex frame and print its fields",
		ArgsUsage: "<hex>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "legacy", Usage: "parse the 16-byte harness format"},
		},
		Action: decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return cli.Exit("decode takes exactly one hex argument", exitConfiguration)
	}
	b, err := decodeHex(c.Args().First())
	if err != nil {
		return err
	}
	w := c.App.Writer
	if c.Bool("legacy") {
		p, err := legacy.Decode(b)
		if err != nil {
			fmt.Fprintf(w, "status=%d\n", legacy.Code(err))
			return delphyerr.Handle(rt.logger, err)
		}
		printLegacy(w, p)
		return nil
	}

	f, err := frame.NewCodec(rt.logger).Decode(b)
	if err != nil {
		return delphyerr.Handle(rt.logger, err)
	}
	fmt.Fprintf(w, "type=%s id=%d session_time=%.6f packet_time=%.3f length=%d\n",
		f.TypeName(), f.PacketID, f.SessionTime, f.PacketTime, f.Length)
	p, err := payload.DecodeTyped(f)
	if err != nil {
		return delphyerr.Handle(rt.logger, err)
	}
	fmt.Fprintln(w, describePayload(p))
	return nil
}

func decodeHex(raw string) ([]byte, error) {
	raw = strings.Join(strings.Fields(raw), "")
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, delphyerr.Configuration(err, "invalid hex input")
	}
	return b, nil
}

func describePayload(p payload.Payload) string {
	switch v := p.(type) {
	case payload.Ack:
		return fmt.Sprintf("ack original_id=%d response=%s message=%q", v.OriginalID, v.ResponseCode, v.Message)
	case payload.Complete:
		return fmt.Sprintf("complete code=%d message=%q", v.Code, v.Message)
	case payload.Identity:
		return fmt.Sprintf("identity machine_id=%d", v.MachineID)
	case payload.Control:
		return fmt.Sprintf("control code=%s message=%q", v.Code, v.Message)
	case payload.Raw:
		return fmt.Sprintf("raw type=%s bytes=%s", v.Type, hex.EncodeToString(v.Bytes))
	default:
		return fmt.Sprintf("%T", p)
	}
}

func printLegacy(w io.Writer, p legacy.Packet) {
	fmt.Fprintf(w, "status=%d type=%s length=%d\n", legacy.CodeSuccess, p.Header.Type, p.Header.Length)
	switch {
	case p.Configuration != nil:
		fmt.Fprintf(w, "configuration parameter_id=%d value=%g timestamp=%d\n",
			p.Configuration.ParameterID, p.Configuration.Value, p.Configuration.Timestamp)
	case p.Capture != nil:
		fmt.Fprintf(w, "capture frame_id=%d data=%s\n", p.Capture.FrameID, hex.EncodeToString(p.Capture.Data))
	}
}
