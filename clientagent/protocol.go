// Package clientagent implements the server side of the IPC transport
// spec.md §6 defines between ClientAgent and Client: a UNIX-domain-socket
// connection framed as `[u64 total_length][u32 flag_bits][TLV cb_tlv]`,
// with file descriptors riding alongside DMA-BUF/SHM creation messages via
// SCM_RIGHTS (spec.md §4.8).
//
// Grounded on original_source/utils/cube_protocal.c's CB_TAG_WIN envelope
// and sub-command TLV nesting; the offset-map indirection that source uses
// to jump straight to a sub-command's payload is a wire-layout optimization
// the Non-goals put out of scope ("IPC wire-format sub-command payload
// parsing beyond framing"), so sub-commands here are read as a flat,
// linearly-scanned sequence of TLVs instead.
package clientagent

import (
	"encoding/binary"
	"fmt"
)

// Sub-command tags, one TLV tag per spec.md §6 flag_bits bit.
const (
	TagWin uint32 = 1 + iota
	TagResult
	TagCreateSurface
	TagCreateView
	TagCreateBO
	TagCommit
	TagBOComplete
	TagBOFlipped
	TagCommitReplace
	TagHotplug
	TagMouseCursorCommit
	TagShell
	TagInput
)

// flag_bits values, one per present sub-command (spec.md §6 "a bitset
// indicating which sub-commands are present").
const (
	FlagCreateSurface uint32 = 1 << iota
	FlagCreateView
	FlagCreateBO
	FlagCommit
	FlagBOComplete
	FlagBOFlipped
	FlagCommitReplace
	FlagHotplug
	FlagMouseCursorCommit
	FlagShell
	FlagInput
)

// tlvHeaderSize is sizeof(struct cb_tlv) minus its flexible payload: a
// u32 tag followed by a u32 length (original_source/utils/cube_protocal.h).
const tlvHeaderSize = 8

// frameHeaderSize is the u64 total_length prefix plus the u32 flag_bits
// word that follow it on the wire.
const frameHeaderSize = 8 + 4

// BOKind selects the create-bo sub-command's backing memory.
type BOKind uint32

const (
	BOKindSHM BOKind = iota
	BOKindDMABUF
)

// decodeTLV reads one {tag, length, payload} record from the front of b,
// returning the remainder of b after it.
func decodeTLV(b []byte) (tag uint32, payload, rest []byte, err error) {
	if len(b) < tlvHeaderSize {
		return 0, nil, nil, fmt.Errorf("clientagent: short TLV header (%d bytes)", len(b))
	}
	tag = binary.LittleEndian.Uint32(b[0:4])
	length := binary.LittleEndian.Uint32(b[4:8])
	if uint32(len(b)-tlvHeaderSize) < length {
		return 0, nil, nil, fmt.Errorf("clientagent: TLV tag %d truncated (want %d, have %d)", tag, length, len(b)-tlvHeaderSize)
	}
	payload = b[tlvHeaderSize : tlvHeaderSize+int(length)]
	rest = b[tlvHeaderSize+int(length):]
	return tag, payload, rest, nil
}

// encodeTLV appends one {tag, length, payload} record to dst.
func encodeTLV(dst []byte, tag uint32, payload []byte) []byte {
	var hdr [tlvHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], tag)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// encodeFrame wraps one outer CB_TAG_WIN TLV (whose payload is the
// concatenation of sub-command TLVs) in the total_length/flag_bits frame
// header (spec.md §6).
func encodeFrame(flags uint32, subTags []uint32, subPayloads [][]byte) []byte {
	var win []byte
	for i, tag := range subTags {
		win = encodeTLV(win, tag, subPayloads[i])
	}
	body := encodeTLV(nil, TagWin, win)

	frame := make([]byte, 0, frameHeaderSize+len(body))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(4+len(body)))
	frame = append(frame, lenBuf[:]...)
	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], flags)
	frame = append(frame, flagBuf[:]...)
	return append(frame, body...)
}

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("clientagent: short u64 payload")
	}
	return binary.LittleEndian.Uint64(b), nil
}
