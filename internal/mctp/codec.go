package mctp

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Codec encodes and parses MCTP frames. Stateless and safe for concurrent use.
type Codec struct{}

// ChannelData is one channel's worth of outbound data to serialize into a
// Data frame. Exactly one of Values/Text applies, selected by Type: Char
// channels carry Text, every other DataType carries Values holding samples
// of the Go type matching Type (int8, int16, int32, uint8, uint16, uint32,
// or float32).
type ChannelData struct {
	Type   DataType
	Values any
	Text   string
}

// Serialize builds a frame with an empty payload: Sync, Ack, Request, Stop
// or Drop.
func (Codec) Serialize(kind FrameKind) []byte {
	return buildFrame(kind, nil)
}

// SerializeSyncResp builds a SyncResp frame declaring nOfChannels channels.
func (Codec) SerializeSyncResp(nOfChannels uint8) []byte {
	return buildFrame(KindSyncResp, []byte{nOfChannels})
}

// SerializeData builds a Data frame. Channel ids are assigned 0..n-1 in the
// order channels are given, per spec §4.1.
func (Codec) SerializeData(channels []ChannelData) ([]byte, error) {
	payload := make([]byte, 0, 1+len(channels)*(DataInfoSize+4))
	payload = append(payload, byte(len(channels)))
	for i, ch := range channels {
		encoded, err := encodeSamples(ch.Type, ch)
		if err != nil {
			return nil, fmt.Errorf("mctp: encode channel %d: %w", i, err)
		}
		var info [DataInfoSize]byte
		info[0] = byte(i)
		binary.LittleEndian.PutUint16(info[1:3], uint16(len(encoded)))
		info[3] = byte(ch.Type)
		payload = append(payload, info[:]...)
		payload = append(payload, encoded...)
	}
	return buildFrame(KindData, payload), nil
}

func buildFrame(kind FrameKind, payload []byte) []byte {
	frame := make([]byte, 0, HeaderSize+len(payload)+EOMSize)
	var header [HeaderSize]byte
	header[0] = byte(kind)
	binary.LittleEndian.PutUint16(header[1:3], uint16(len(payload)))
	for i := 3; i < HeaderSize; i++ {
		header[i] = reservedFiller
	}
	frame = append(frame, header[:]...)
	frame = append(frame, payload...)
	frame = append(frame, EOM[:]...)
	return frame
}

// encodeSamples packs a ChannelData's Values (or Text, for Char) into its
// wire representation.
func encodeSamples(dt DataType, ch ChannelData) ([]byte, error) {
	if _, ok := elementWidth(dt); !ok {
		return nil, newParseError(BadDataType, fmt.Sprintf("unsupported data type %d", dt))
	}
	if dt == Char {
		return []byte(ch.Text), nil
	}
	switch v := ch.Values.(type) {
	case []int8:
		buf := make([]byte, len(v))
		for i, x := range v {
			buf[i] = byte(x)
		}
		return buf, nil
	case []uint8:
		return append([]byte(nil), v...), nil
	case []int16:
		buf := make([]byte, 2*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(x))
		}
		return buf, nil
	case []uint16:
		buf := make([]byte, 2*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint16(buf[2*i:], x)
		}
		return buf, nil
	case []int32:
		buf := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(x))
		}
		return buf, nil
	case []uint32:
		buf := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[4*i:], x)
		}
		return buf, nil
	case []float32:
		buf := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("mctp: no sample encoder for data type %d (go type %T)", dt, v)
	}
}

// Parse decodes a byte buffer into a Frame, or returns a *ParseError. Parsing
// never panics and never reads past the declared data_size.
func (Codec) Parse(buf []byte) (*Frame, error) {
	if len(buf) < MinFrameSize {
		return nil, newParseError(TooShort, fmt.Sprintf("frame is %d bytes, need at least %d", len(buf), MinFrameSize))
	}

	kind := FrameKind(buf[0])
	if !kind.valid() {
		return nil, newParseError(BadKind, fmt.Sprintf("unknown frame kind %d", buf[0]))
	}
	dataSize := binary.LittleEndian.Uint16(buf[1:3])
	// buf[3:8] are the five reserved bytes; forward compatibility depends on
	// never validating their content (spec §9).

	end := HeaderSize + int(dataSize)
	if end > len(buf) {
		return nil, newParseError(SizeMismatch, fmt.Sprintf("data_size %d exceeds buffer (have %d bytes of payload)", dataSize, len(buf)-HeaderSize))
	}
	payload := buf[HeaderSize:end]

	frame := &Frame{Kind: kind, DataSize: dataSize}

	switch kind {
	case KindSyncResp:
		n, err := parseChannelCount(payload)
		if err != nil {
			return nil, err
		}
		frame.NOfChannels = n
	case KindData:
		n, err := parseChannelCount(payload)
		if err != nil {
			return nil, err
		}
		frame.NOfChannels = n
		numeric, text, err := parseDataChannels(payload, int(dataSize))
		if err != nil {
			return nil, err
		}
		frame.NumericChannels = numeric
		frame.TextChannels = text
	}

	return frame, nil
}

func parseChannelCount(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, newParseError(BadData, "missing channel count byte")
	}
	n := payload[0]
	if n > MaxChannels {
		return 0, newParseError(TooManyChannels, fmt.Sprintf("declared %d channels, max is %d", n, MaxChannels))
	}
	return n, nil
}

// parseDataChannels walks the n_of_channels channel descriptors following
// the leading channel-count byte of a Data payload. Any remainder left
// before dataSize once every declared channel is read is reserved padding
// and is silently discarded (spec §4.1 step 6).
func parseDataChannels(payload []byte, dataSize int) (map[uint8][]float64, map[uint8]string, error) {
	numeric := map[uint8][]float64{}
	text := map[uint8]string{}

	cursor := 1
	for i := 0; i < int(payload[0]); i++ {
		if cursor+DataInfoSize > len(payload) {
			return nil, nil, newParseError(BadData, "truncated channel descriptor")
		}
		chID := payload[cursor]
		chBytes := int(binary.LittleEndian.Uint16(payload[cursor+1 : cursor+3]))
		dt := DataType(payload[cursor+3])

		if cursor+DataInfoSize+chBytes > dataSize {
			return nil, nil, newParseError(SizeMismatch, fmt.Sprintf("channel %d declares %d bytes past data_size", chID, chBytes))
		}

		width, ok := elementWidth(dt)
		if !ok {
			return nil, nil, newParseError(BadDataType, fmt.Sprintf("unknown data type %d on channel %d", dt, chID))
		}

		dataStart := cursor + DataInfoSize
		dataEnd := dataStart + chBytes
		if dataEnd > len(payload) {
			return nil, nil, newParseError(BadData, fmt.Sprintf("channel %d payload runs past buffer", chID))
		}
		raw := payload[dataStart:dataEnd]

		if dt == Char {
			if !utf8.Valid(raw) {
				return nil, nil, newParseError(BadUTF8, fmt.Sprintf("channel %d is not valid utf-8", chID))
			}
			text[chID] = string(raw)
		} else {
			if width == 0 || chBytes%width != 0 {
				return nil, nil, newParseError(BadData, fmt.Sprintf("channel %d byte length %d not a multiple of width %d", chID, chBytes, width))
			}
			samples, err := decodeSamples(dt, raw)
			if err != nil {
				return nil, nil, err
			}
			numeric[chID] = samples
		}

		cursor = dataEnd
	}
	return numeric, text, nil
}

func decodeSamples(dt DataType, raw []byte) ([]float64, error) {
	width, _ := elementWidth(dt)
	n := len(raw) / width
	out := make([]float64, n)
	switch dt {
	case Int8:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(raw[i]))
		}
	case UInt8:
		for i := 0; i < n; i++ {
			out[i] = float64(raw[i])
		}
	case Int16:
		for i := 0; i < n; i++ {
			out[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:])))
		}
	case UInt16:
		for i := 0; i < n; i++ {
			out[i] = float64(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case Int32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	case UInt32:
		for i := 0; i < n; i++ {
			out[i] = float64(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	default:
		return nil, newParseError(BadDataType, fmt.Sprintf("unsupported numeric data type %d", dt))
	}
	return out, nil
}
