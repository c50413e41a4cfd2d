package idf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/buckleypaul/dutkit/dut"
)

const partitionEntrySize = 32

var (
	partitionMagic = []byte{0xAA, 0x50}
	md5Magic       = []byte{0xEB, 0xEB}
	tableEnd       = []byte{0xFF, 0xFF}
)

// ParsePartitionTable decodes a binary ESP-IDF partition table. Each
// entry is 32 bytes: magic, type, subtype, offset, size, a 16 byte label
// and flags, little endian. The table ends at an erased entry or at its
// MD5 checksum entry.
func ParsePartitionTable(data []byte) ([]dut.Partition, error) {
	var parts []dut.Partition
	for off := 0; off+partitionEntrySize <= len(data); off += partitionEntrySize {
		e := data[off : off+partitionEntrySize]
		magic := e[:2]
		if bytes.Equal(magic, tableEnd) || bytes.Equal(magic, md5Magic) {
			return parts, nil
		}
		if !bytes.Equal(magic, partitionMagic) {
			return nil, fmt.Errorf("partition entry %d: bad magic %x", off/partitionEntrySize, magic)
		}
		label := e[12:28]
		if i := bytes.IndexByte(label, 0); i >= 0 {
			label = label[:i]
		}
		parts = append(parts, dut.Partition{
			Name:    string(label),
			Type:    e[2],
			SubType: e[3],
			Offset:  binary.LittleEndian.Uint32(e[4:8]),
			Size:    binary.LittleEndian.Uint32(e[8:12]),
			Flags:   binary.LittleEndian.Uint32(e[28:32]),
		})
	}
	return parts, nil
}
