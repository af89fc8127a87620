package candb

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// signal describes one named value packed into a frame's data bytes:
// data[offset:offset+len], big-endian, scaled by value*scale+bias.
type signal struct {
	name   string
	offset int
	length int
	scale  float64
	bias   float64
}

// INIDatabase is a minimal signal database backed by an ini file: one
// section per CAN ID (as a hex literal, e.g. "0x100"), one key per signal.
// This reuses the ini format the teacher parses its EDS files with, scaled
// down to a flat "offset:len:scale" table instead of a full DBC grammar.
type INIDatabase struct {
	signals map[uint32][]signal
}

// NewINIDatabase loads a signal table from path.
func NewINIDatabase(path string) (*INIDatabase, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("candb: load %s: %w", path, err)
	}
	db := &INIDatabase{signals: make(map[uint32][]signal)}
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		id, err := parseSectionID(section.Name())
		if err != nil {
			return nil, err
		}
		for _, key := range section.Keys() {
			sig, err := parseSignal(key.Name(), key.Value())
			if err != nil {
				return nil, err
			}
			db.signals[id] = append(db.signals[id], sig)
		}
	}
	return db, nil
}

func parseSectionID(name string) (uint32, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(name, "0x"), "0X")
	id, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("candb: invalid CAN ID section %q: %w", name, err)
	}
	return uint32(id), nil
}

// parseSignal parses a value like "offset:0,len:2,scale:0.25".
func parseSignal(name, value string) (signal, error) {
	sig := signal{name: name, length: 1, scale: 1}
	for _, field := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(field), ":", 2)
		if len(parts) != 2 {
			return signal{}, fmt.Errorf("candb: malformed signal field %q for %q", field, name)
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "offset":
			n, err := strconv.Atoi(val)
			if err != nil {
				return signal{}, err
			}
			sig.offset = n
		case "len":
			n, err := strconv.Atoi(val)
			if err != nil {
				return signal{}, err
			}
			sig.length = n
		case "scale":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return signal{}, err
			}
			sig.scale = f
		case "bias":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return signal{}, err
			}
			sig.bias = f
		}
	}
	return sig, nil
}

func (db *INIDatabase) Decode(id uint32, data []byte) (map[string]any, error) {
	signals, ok := db.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	decoded := make(map[string]any, len(signals))
	for _, sig := range signals {
		if sig.offset+sig.length > len(data) {
			return nil, ErrParse
		}
		var raw uint64
		for _, b := range data[sig.offset : sig.offset+sig.length] {
			raw = raw<<8 | uint64(b)
		}
		decoded[sig.name] = float64(raw)*sig.scale + sig.bias
	}
	return decoded, nil
}
