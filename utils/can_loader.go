package utils

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

//go:embed motor_can_map.csv
var defaultCANMapCSV []byte

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// DefaultCANMap returns the built-in motor telemetry/command map.
func DefaultCANMap() (*CANMap, error) {
	m, err := ParseCANMap(bytes.NewReader(defaultCANMapCSV))
	if err != nil {
		return nil, fmt.Errorf("embedded can map: %w", err)
	}
	return m, nil
}

func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

// ParseCANMap reads one signal per row; rows sharing a frame_id form a frame.
func ParseCANMap(in io.Reader) (*CANMap, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	m := newCANMap()
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if err := m.addRow(rowReader{rec: rec, idx: idx}); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
		if err := checkOverlap(fd); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *CANMap) addRow(row rowReader) error {
	frameID, err := parseHexOrDecUint32(row.str("frame_id"))
	if err != nil {
		return fmt.Errorf("invalid frame_id %q: %w", row.str("frame_id"), err)
	}

	frameName := row.str("frame_name")
	direction := strings.ToLower(row.str("direction"))
	if direction != DirTX && direction != DirRX {
		return fmt.Errorf("frame %s: direction must be tx or rx, got %q", frameName, direction)
	}
	cycleMS := row.asInt("cycle_ms")
	dlc := row.asInt("dlc")

	sig := SignalDef{
		Name:      row.str("signal_name"),
		StartBit:  row.asInt("start_bit"),
		BitLength: row.asInt("bit_length"),
		Signed:    row.asBool("signed"),
		Factor:    row.asFloat("factor"),
		Offset:    row.asFloat("offset"),
		Min:       row.asFloat("min"),
		Max:       row.asFloat("max"),
		Default:   row.asFloat("default"),
		Unit:      row.str("unit"),
		Comment:   row.str("comment"),
	}
	if row.err != nil {
		return fmt.Errorf("frame %s: %w", frameName, row.err)
	}

	if e := row.str("endianness"); e != "" && e != "little" {
		return fmt.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
			frameName, sig.Name, e)
	}
	if dlc <= 0 || dlc > 8 {
		return fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
	}
	if sig.BitLength <= 0 || sig.StartBit < 0 || sig.StartBit+sig.BitLength > dlc*8 {
		return fmt.Errorf("frame %s signal %s: bits [%d,+%d) do not fit in %d bytes",
			frameName, sig.Name, sig.StartBit, sig.BitLength, dlc)
	}

	fd, ok := m.ByID[frameID]
	if !ok {
		if _, dup := m.ByName[frameName]; dup {
			return fmt.Errorf("frame name %s reused for id 0x%X", frameName, frameID)
		}
		fd = &FrameDef{
			ID:        frameID,
			Name:      frameName,
			DLC:       dlc,
			Direction: direction,
			CycleMS:   cycleMS,
		}
		m.ByID[frameID] = fd
		m.ByName[frameName] = fd
	}
	if fd.DLC != dlc {
		return fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
	}
	if _, dup := fd.Signal(sig.Name); dup {
		return fmt.Errorf("frame %s: duplicate signal %s", frameName, sig.Name)
	}

	fd.Signals = append(fd.Signals, sig)
	return nil
}

// checkOverlap expects Signals sorted by StartBit.
func checkOverlap(fd *FrameDef) error {
	for i := 1; i < len(fd.Signals); i++ {
		prev, cur := fd.Signals[i-1], fd.Signals[i]
		if prev.StartBit+prev.BitLength > cur.StartBit {
			return fmt.Errorf("frame %s: signals %s and %s overlap", fd.Name, prev.Name, cur.Name)
		}
	}
	return nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

// rowReader keeps the first conversion error so a row is checked once.
type rowReader struct {
	rec []string
	idx map[string]int
	err error
}

func (r *rowReader) str(col string) string {
	i := r.idx[col]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *rowReader) asInt(col string) int {
	s := r.str(col)
	v, err := strconv.Atoi(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (r *rowReader) asFloat(col string) float64 {
	s := r.str(col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (r *rowReader) asBool(col string) bool {
	switch strings.ToLower(r.str(col)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}
