package uds

import "fmt"

// Severity classifies a decoded DTC for display/triage purposes.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DTC is one decoded Diagnostic Trouble Code.
type DTC struct {
	Code        string // e.g. "P0301"
	Status      byte
	Severity    Severity
	Description string
	Alert       bool
}

// DTCInfo is one configured lookup-table entry for a canonical DTC code.
type DTCInfo struct {
	Description string
	Severity    Severity
	Alert       bool
}

// DTCTable maps canonical DTC codes to their configured description,
// severity, and alert flag. A code absent from the table decodes with
// severity UNKNOWN and alert=false, per the unknown-DTC handling rule.
type DTCTable map[string]DTCInfo

var severityByCode = map[string]Severity{
	"P0301": SeverityCritical,
	"P0171": SeverityWarning,
	"P0420": SeverityWarning,
	"U0100": SeverityCritical,
	"C0035": SeverityCritical,
	"B1000": SeverityInfo,
}

// DefaultDTCTable is the built-in fallback table used when no configured
// table is supplied.
var DefaultDTCTable = func() DTCTable {
	table := make(DTCTable, len(severityByCode))
	for code, severity := range severityByCode {
		table[code] = DTCInfo{Severity: severity}
	}
	return table
}()

// dtcPrefix maps the top two bits of the first DTC byte to the ISO 15031-6
// letter prefix.
var dtcPrefix = [4]byte{'P', 'C', 'B', 'U'}

// decodeDTCCode canonicalizes the 3 raw DTC bytes (high, middle, low) into
// the "Pxxxx" form. The low byte is the UDS failure-type byte and does not
// contribute to the canonical code.
func decodeDTCCode(high, mid, _ byte) string {
	prefix := dtcPrefix[high>>6]
	firstDigit := (high >> 4) & 0x03
	return fmt.Sprintf("%c%d%X%02X", prefix, firstDigit, high&0x0F, mid)
}

// DecodeDTCs decodes a ReadDTCByStatusMask positive response payload
// (response service id, sub-function, DTC record count, then that many
// 4-byte records of 3 DTC bytes + 1 status byte) into individual DTCs. The
// first two bytes are not checked. It uses DefaultDTCTable
// for description/severity/alert lookups.
func DecodeDTCs(payload []byte) ([]DTC, error) {
	return DecodeDTCsWithTable(payload, DefaultDTCTable)
}

// DecodeDTCsWithTable is DecodeDTCs with an explicit lookup table, letting
// callers supply the table loaded from the JSON configuration file.
func DecodeDTCsWithTable(payload []byte, table DTCTable) ([]DTC, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("uds: dtc payload too short")
	}
	count := int(payload[2])
	records := payload[3:]
	if len(records) != count*4 {
		return nil, fmt.Errorf("uds: dtc payload declares %d records but carries %d bytes", count, len(records))
	}
	dtcs := make([]DTC, 0, len(records)/4)
	for i := 0; i < len(records); i += 4 {
		code := decodeDTCCode(records[i], records[i+1], records[i+2])
		status := records[i+3]
		info, ok := table[code]
		if !ok {
			info = DTCInfo{Severity: SeverityUnknown}
		}
		dtcs = append(dtcs, DTC{
			Code:        code,
			Status:      status,
			Severity:    info.Severity,
			Description: info.Description,
			Alert:       info.Alert,
		})
	}
	return dtcs, nil
}
