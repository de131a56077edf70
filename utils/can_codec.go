package utils

import (
	"fmt"

	"go.einride.tech/can"
)

// EncodePayload packs values into the frame's DLC bytes. Signals missing
// from values take their default.
func (m *CANMap) EncodePayload(frameName string, values map[string]float64) ([]byte, uint32, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return nil, 0, err
	}

	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		payload = s.pack(payload, v)
	}

	out := make([]byte, fd.DLC)
	for i := 0; i < fd.DLC; i++ {
		out[i] = byte(payload >> (8 * i))
	}
	return out, fd.ID, nil
}

// EncodeFrame produces an einride can.Frame ready to transmit.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) (can.Frame, error) {
	payload, id, err := m.EncodePayload(frameName, values)
	if err != nil {
		return can.Frame{}, err
	}

	f := can.Frame{ID: id, Length: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// DecodePayload unpacks every signal of the frame with the given ID.
func (m *CANMap) DecodePayload(frameID uint32, data []byte) (map[string]float64, error) {
	fd, err := m.FrameByID(frameID)
	if err != nil {
		return nil, err
	}
	if len(data) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", frameID, fd.DLC, len(data))
	}

	var payload uint64
	for i := 0; i < fd.DLC; i++ {
		payload |= uint64(data[i]) << (8 * i)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		out[s.Name] = s.unpack(payload)
	}
	return out, nil
}

func (m *CANMap) DecodeFrame(f can.Frame) (map[string]float64, error) {
	if f.IsRemote {
		return nil, fmt.Errorf("frame 0x%X: remote frames carry no signals", f.ID)
	}
	return m.DecodePayload(f.ID, f.Data[:f.Length])
}
