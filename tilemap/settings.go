package tilemap

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpeedEntry is one label/code pair of a SpeedCodeTable.
type SpeedEntry struct {
	Label string `yaml:"label" msgpack:"label"`
	Code  int    `yaml:"code" msgpack:"code"`
}

// SpeedCodeTable maps human speed labels to the 4-bit codes packed into
// waypoint commands. Order is preserved and one label is the default.
type SpeedCodeTable struct {
	entries []SpeedEntry
	def     string
}

// DefaultSpeedTable returns the stock Stop/Slow/Medium/Fast table with Slow
// as the default.
func DefaultSpeedTable() *SpeedCodeTable {
	t, _ := NewSpeedTable([]SpeedEntry{
		{Label: "Stop", Code: 0},
		{Label: "Slow", Code: 1},
		{Label: "Medium", Code: 2},
		{Label: "Fast", Code: 3},
	}, "Slow")
	return t
}

// NewSpeedTable builds a table. If def is empty or unknown the first label
// becomes the default. A later duplicate label replaces the earlier code.
func NewSpeedTable(entries []SpeedEntry, def string) (*SpeedCodeTable, error) {
	if len(entries) == 0 {
		return nil, ErrEmptySpeedTable
	}
	t := &SpeedCodeTable{}
	for _, e := range entries {
		if e.Label == "" {
			continue
		}
		if e.Code < 0 || e.Code > 0x0F {
			return nil, fmt.Errorf("%w: %s=%d", ErrSpeedCodeRange, e.Label, e.Code)
		}
		if i := t.index(e.Label); i >= 0 {
			t.entries[i].Code = e.Code
			continue
		}
		t.entries = append(t.entries, e)
	}
	if len(t.entries) == 0 {
		return nil, ErrEmptySpeedTable
	}
	if t.SetDefault(def) != nil {
		t.def = t.entries[0].Label
	}
	return t, nil
}

func (t *SpeedCodeTable) index(label string) int {
	for i, e := range t.entries {
		if e.Label == label {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the table in order.
func (t *SpeedCodeTable) Entries() []SpeedEntry {
	return append([]SpeedEntry(nil), t.entries...)
}

// Labels returns the labels in table order.
func (t *SpeedCodeTable) Labels() []string {
	labels := make([]string, len(t.entries))
	for i, e := range t.entries {
		labels[i] = e.Label
	}
	return labels
}

// Default returns the default label.
func (t *SpeedCodeTable) Default() string {
	return t.def
}

// SetDefault changes the default label, which must be in the table.
func (t *SpeedCodeTable) SetDefault(label string) error {
	if t.index(label) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSpeedLabel, label)
	}
	t.def = label
	return nil
}

// Code returns the code for label. ok is false when the label is missing,
// in which case code 0 is returned.
func (t *SpeedCodeTable) Code(label string) (code int, ok bool) {
	if i := t.index(label); i >= 0 {
		return t.entries[i].Code, true
	}
	return 0, false
}

// Label returns the label for code. When several labels share a code the
// last one in table order wins.
func (t *SpeedCodeTable) Label(code int) (label string, ok bool) {
	for _, e := range t.entries {
		if e.Code == code {
			label, ok = e.Label, true
		}
	}
	return label, ok
}

// String renders the table in its editable "label,code" line form.
func (t *SpeedCodeTable) String() string {
	var b strings.Builder
	for _, e := range t.entries {
		fmt.Fprintf(&b, "%s,%d\n", e.Label, e.Code)
	}
	return b.String()
}

// ParseSpeedTable parses the "label,code" line form. Lines that do not have
// exactly two fields are ignored; a non-numeric code is a ParseError. The
// default is kept if still present, otherwise the first label is used.
func ParseSpeedTable(text, def string) (*SpeedCodeTable, error) {
	var entries []SpeedEntry
	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		parts := strings.Split(raw, ",")
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		code, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, newParseError(line, raw, err)
		}
		entries = append(entries, SpeedEntry{Label: parts[0], Code: code})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewSpeedTable(entries, def)
}

type speedTableYAML struct {
	Default string       `yaml:"default"`
	Speeds  []SpeedEntry `yaml:"speeds"`
}

// MarshalYAML implements yaml.Marshaler.
func (t *SpeedCodeTable) MarshalYAML() (interface{}, error) {
	return speedTableYAML{Default: t.def, Speeds: t.entries}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *SpeedCodeTable) UnmarshalYAML(value *yaml.Node) error {
	var raw speedTableYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := NewSpeedTable(raw.Speeds, raw.Default)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// LoadSpeedTableYAML decodes a table from YAML.
func LoadSpeedTableYAML(data []byte) (*SpeedCodeTable, error) {
	t := &SpeedCodeTable{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// YAML encodes the table.
func (t *SpeedCodeTable) YAML() ([]byte, error) {
	return yaml.Marshal(t)
}
