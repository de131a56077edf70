package utils

import "sort"

// Frame directions as seen from the motor controller.
const (
	DirTX = "tx"
	DirRX = "rx"
)

type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Default   float64
	Unit      string
	Comment   string
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal returns the named signal definition, if present.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func newCANMap() *CANMap {
	return &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FramesByDirection lists frame names with the given direction, sorted.
func (m *CANMap) FramesByDirection(dir string) []string {
	var out []string
	for name, fd := range m.ByName {
		if fd.Direction == dir {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
