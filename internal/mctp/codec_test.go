package mctp

import (
	"errors"
	"testing"
)

func TestSerializeParseEmptySync(t *testing.T) {
	c := Codec{}
	buf := c.Serialize(KindSync)
	if len(buf) != MinFrameSize {
		t.Fatalf("expected %d bytes, got %d", MinFrameSize, len(buf))
	}
	frame, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Kind != KindSync {
		t.Fatalf("expected KindSync, got %v", frame.Kind)
	}
	if frame.DataSize != 0 {
		t.Fatalf("expected zero data size, got %d", frame.DataSize)
	}
}

func TestSerializeParseSyncRespThreeChannels(t *testing.T) {
	c := Codec{}
	buf := c.SerializeSyncResp(3)
	frame, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Kind != KindSyncResp {
		t.Fatalf("expected KindSyncResp, got %v", frame.Kind)
	}
	if frame.NOfChannels != 3 {
		t.Fatalf("expected 3 channels, got %d", frame.NOfChannels)
	}
}

func TestSerializeParseDataOneInt8Channel(t *testing.T) {
	c := Codec{}
	buf, err := c.SerializeData([]ChannelData{
		{Type: Int8, Values: []int8{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	frame, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Kind != KindData {
		t.Fatalf("expected KindData, got %v", frame.Kind)
	}
	if frame.NOfChannels != 1 {
		t.Fatalf("expected 1 channel, got %d", frame.NOfChannels)
	}
	got := frame.NumericChannels[0]
	want := []float64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSerializeParseDataThreeChannelsWithFloat32(t *testing.T) {
	c := Codec{}
	buf, err := c.SerializeData([]ChannelData{
		{Type: UInt8, Values: []uint8{10, 20}},
		{Type: Char, Text: "hi"},
		{Type: Float32, Values: []float32{1.5, -2.25}},
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	frame, err := c.Parse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.NOfChannels != 3 {
		t.Fatalf("expected 3 channels, got %d", frame.NOfChannels)
	}
	if len(frame.NumericChannels[0]) != 2 || frame.NumericChannels[0][0] != 10 || frame.NumericChannels[0][1] != 20 {
		t.Fatalf("channel 0 mismatch: %v", frame.NumericChannels[0])
	}
	if frame.TextChannels[1] != "hi" {
		t.Fatalf("channel 1 mismatch: %q", frame.TextChannels[1])
	}
	fv := frame.NumericChannels[2]
	if len(fv) != 2 || fv[0] != 1.5 || fv[1] != -2.25 {
		t.Fatalf("channel 2 mismatch: %v", fv)
	}
}

func TestParseOversizedChannelSizeMismatch(t *testing.T) {
	c := Codec{}
	buf, err := c.SerializeData([]ChannelData{
		{Type: UInt8, Values: []uint8{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	// The true payload is 8 bytes: a channel-count byte, an intact 4-byte
	// descriptor (channel 0, chBytes=3, UInt8), then 3 data bytes. Understate
	// data_size as 6 — enough to keep the descriptor itself intact (cursor 1
	// + DataInfoSize 4 = 5 <= 6) but too little for the 3 data bytes it
	// declares (1+4+3=8 > 6), hitting SizeMismatch rather than truncating
	// the descriptor into BadData.
	buf[1] = 6
	buf[2] = 0

	_, err = c.Parse(buf)
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Kind != SizeMismatch {
		t.Fatalf("expected SizeMismatch, got %v", pe.Kind)
	}
}

func TestParseTooManyChannels(t *testing.T) {
	c := Codec{}
	buf := buildFrame(KindData, []byte{33})
	_, err := c.Parse(buf)
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != TooManyChannels {
		t.Fatalf("expected TooManyChannels, got %v", err)
	}
}

func TestParseTooShort(t *testing.T) {
	c := Codec{}
	_, err := c.Parse([]byte{0, 0, 0})
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != TooShort {
		t.Fatalf("expected TooShort, got %v", err)
	}
}

func TestParseBadKind(t *testing.T) {
	c := Codec{}
	buf := buildFrame(KindSync, nil)
	buf[0] = 200
	_, err := c.Parse(buf)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != BadKind {
		t.Fatalf("expected BadKind, got %v", err)
	}
}

func TestSerializeFloat16Refused(t *testing.T) {
	c := Codec{}
	_, err := c.SerializeData([]ChannelData{
		{Type: Float16, Values: []uint16{1}},
	})
	if err == nil {
		t.Fatal("expected error serializing Float16 channel")
	}
}

func TestParseDataBadUTF8(t *testing.T) {
	c := Codec{}
	buf, err := c.SerializeData([]ChannelData{
		{Type: Char, Text: "ok"},
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	// Corrupt the text payload's first byte into an invalid UTF-8 lead byte.
	// Payload layout: [n_of_channels][4-byte descriptor]["ok"].
	buf[HeaderSize+1+DataInfoSize] = 0xff
	_, err = c.Parse(buf)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != BadUTF8 {
		t.Fatalf("expected BadUTF8, got %v", err)
	}
}
