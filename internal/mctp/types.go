// Package mctp implements the wire-level framing for the Micro-Controller
// Transfer Protocol: frame kinds, data types, and the codec that serializes
// and parses frames exchanged between the controller and the performer.
package mctp

// FrameKind identifies the kind of an MCTP frame. The integer values are
// wire-level and MUST NOT change.
type FrameKind uint8

const (
	KindNone     FrameKind = 0
	KindSync     FrameKind = 1
	KindSyncResp FrameKind = 2
	KindAck      FrameKind = 3
	KindRequest  FrameKind = 4
	KindData     FrameKind = 5
	KindStop     FrameKind = 6
	KindDrop     FrameKind = 7
)

func (k FrameKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSync:
		return "sync"
	case KindSyncResp:
		return "sync_resp"
	case KindAck:
		return "ack"
	case KindRequest:
		return "request"
	case KindData:
		return "data"
	case KindStop:
		return "stop"
	case KindDrop:
		return "drop"
	default:
		return "unknown"
	}
}

func (k FrameKind) valid() bool { return k <= KindDrop }

// DataType identifies the wire type of a channel's samples.
type DataType uint8

const (
	Char    DataType = 0
	Int8    DataType = 1
	Int16   DataType = 2
	Int32   DataType = 3
	UInt8   DataType = 4
	UInt16  DataType = 5
	UInt32  DataType = 6
	Float8  DataType = 7
	Float16 DataType = 8
	Float32 DataType = 9
)

// elementWidth returns the per-element byte width on the wire for each
// DataType, and whether the type is recognized at all.
func elementWidth(dt DataType) (width int, ok bool) {
	switch dt {
	case Char, Int8, UInt8:
		return 1, true
	case Int16, UInt16:
		return 2, true
	case Int32, UInt32, Float32:
		return 4, true
	// Float8/Float16 have no pinned wire encoding at this protocol revision
	// (spec §9, original_source mctp.py leaves both as TODO). Widths are
	// kept here for documentation only; parse/serialize refuse them.
	case Float8:
		return 1, false
	case Float16:
		return 2, false
	default:
		return 0, false
	}
}

// DataInfoSize is the fixed size, in bytes, of one channel descriptor
// (channel id, channel byte length, data type) inside a Data payload.
const DataInfoSize = 4

// HeaderSize is the fixed MCTP header size (kind + data_size + 5 reserved bytes).
const HeaderSize = 8

// EOMSize is the size of the end-of-message trailer.
const EOMSize = 3

// MinFrameSize is the smallest legal frame: header plus EOM, zero payload.
const MinFrameSize = HeaderSize + EOMSize

// MaxChannels is the maximum number of channels a SyncResp/Data frame may declare.
const MaxChannels = 32

// EOM is the fixed end-of-message trailer.
var EOM = [EOMSize]byte{0x24, 0x25, 0x26}

// reservedFiller is the byte value the controller emits for the header's
// five reserved bytes. It carries no meaning and is ignored on parse.
const reservedFiller = 0x05

// ChannelPayload is a tagged variant holding either a numeric sample burst
// (widened to float64) or a text arrival for one channel of a Data frame.
// Parse does not use it: parseDataChannels fills Frame.NumericChannels and
// Frame.TextChannels directly, and those two maps are what the registry
// consumes.
type ChannelPayload struct {
	Numeric []float64
	Text    string
	IsText  bool
}

// Frame is the parsed, in-memory representation of an MCTP frame.
type Frame struct {
	Kind            FrameKind
	DataSize        uint16
	NOfChannels     uint8
	NumericChannels map[uint8][]float64
	TextChannels    map[uint8]string
}
