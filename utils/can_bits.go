package utils

import "math"

// Little-endian (Intel) bit layout only: bit 0 is the LSB of byte 0.

func bitMask(bitLen int) uint64 {
	if bitLen >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(bitLen)) - 1
}

func getBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	return (payload >> uint(startBit)) & bitMask(bitLen)
}

func setBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return payload
	}
	mask := bitMask(bitLen)
	payload &^= mask << uint(startBit)
	payload |= (value & mask) << uint(startBit)
	return payload
}

// signExtend interprets the low bitLen bits of u as two's complement.
func signExtend(u uint64, bitLen int) int64 {
	if bitLen <= 0 || bitLen >= 64 {
		return int64(u)
	}
	shift := uint(64 - bitLen)
	return int64(u<<shift) >> shift
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rawRange is the representable integer range of a signal.
func rawRange(bitLen int, signed bool) (int64, int64) {
	if bitLen <= 0 || bitLen > 63 {
		return math.MinInt64, math.MaxInt64
	}
	if !signed {
		return 0, int64(bitMask(bitLen))
	}
	return -int64(1) << uint(bitLen-1), int64(1)<<uint(bitLen-1) - 1
}

// pack scales a physical value into its raw field and stores it in payload.
// Values are limited to [Min,Max] when the row declares a range, then to
// what the field can hold.
func (s SignalDef) pack(payload uint64, phys float64) uint64 {
	if s.Min < s.Max {
		phys = clamp(phys, s.Min, s.Max)
	}
	factor := s.Factor
	if factor == 0 {
		factor = 1
	}
	raw := int64(math.Round((phys - s.Offset) / factor))
	lo, hi := rawRange(s.BitLength, s.Signed)
	if raw < lo {
		raw = lo
	}
	if raw > hi {
		raw = hi
	}
	return setBits(payload, s.StartBit, s.BitLength, uint64(raw))
}

func (s SignalDef) unpack(payload uint64) float64 {
	u := getBits(payload, s.StartBit, s.BitLength)
	factor := s.Factor
	if factor == 0 {
		factor = 1
	}
	if s.Signed {
		return float64(signExtend(u, s.BitLength))*factor + s.Offset
	}
	return float64(u)*factor + s.Offset
}
