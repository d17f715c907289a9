package tilemap

import (
	"fmt"
	"strconv"
	"strings"
)

// Bump program opcodes occupy the top nibble of the 16-bit command value.
const (
	BumpStop    = 0x1000
	BumpTurn    = 0x2000
	BumpForward = 0x3000
	BumpReverse = 0x4000
	BumpWait    = 0x5000
	BumpResume  = 0x6000
)

const bumpOperandMask = 0xFFF

var bumpOpcodes = map[string]int{
	"STOP":    BumpStop,
	"TURN":    BumpTurn,
	"FORWARD": BumpForward,
	"REVERSE": BumpReverse,
	"WAIT":    BumpWait,
	"RESUME":  BumpResume,
}

// BumpCommand is one compiled statement of a bump program.
type BumpCommand struct {
	Index int
	Value uint16
	Line  string
}

// CompileBump compiles a bump recovery program into "<" protocol lines.
//
// Statements are one per line: STOP, TURN <deg>, FORWARD <sec>,
// REVERSE <sec>, WAIT <sec>, RESUME. Times are sent in tenths of a second,
// turn angles as whole degrees (negative turns left), both truncated to 12
// bits. Lines with unknown keywords are skipped.
func CompileBump(text string) ([]BumpCommand, error) {
	var cmds []BumpCommand
	for _, raw := range splitRecords(text) {
		fields := strings.Fields(raw.text)
		if len(fields) == 0 {
			continue
		}
		op, ok := bumpOpcodes[strings.ToUpper(fields[0])]
		if !ok {
			continue
		}
		val := op
		if len(fields) > 1 {
			operand, err := bumpOperand(op, fields[1])
			if err != nil {
				return nil, newParseError(raw.line, raw.text, err)
			}
			val |= operand & bumpOperandMask
		} else if op != BumpStop && op != BumpResume {
			return nil, newParseError(raw.line, raw.text, fmt.Errorf("%s requires an operand", fields[0]))
		}
		idx := len(cmds)
		if idx > 0xFF {
			return nil, newParseError(raw.line, raw.text, ErrIndexOutOfRange)
		}
		cmds = append(cmds, BumpCommand{
			Index: idx,
			Value: uint16(val),
			Line:  NewHexWriter("<").Hex(int64(idx), 2).Hex(int64(val), 4).Line(),
		})
	}
	return cmds, nil
}

func bumpOperand(op int, field string) (int, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if op == BumpTurn {
		return int(v), nil
	}
	return int(v * 10), nil
}

// BumpLines returns just the protocol lines of cmds.
func BumpLines(cmds []BumpCommand) []string {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.Line
	}
	return lines
}

type record struct {
	line int
	text string
}

// splitRecords tokenizes text on \n and \r, dropping empty records. Line
// numbers count records, matching how the files were always read.
func splitRecords(text string) []record {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	recs := make([]record, 0, len(parts))
	for i, p := range parts {
		recs = append(recs, record{line: i + 1, text: p})
	}
	return recs
}
