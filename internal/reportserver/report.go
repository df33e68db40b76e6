package reportserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout prefixes every stored report name.
const TimestampLayout = "2006-01-02-150405"

var (
	deviceReplacer = strings.NewReplacer(",", "-", "/", "-", ".", "-")
	dotReplacer    = strings.NewReplacer(".", "-")
)

// ErrInvalidReport is returned for bodies that are not a JSON object with
// string device, version and experiment fields.
var ErrInvalidReport = errors.New("invalid report")

// Report is a decoded report body. Body holds the undecoded members; the
// stored file is the posted document itself, so numbers and key order are
// preserved.
type Report struct {
	Device     string
	Version    string
	Experiment string
	Body       map[string]json.RawMessage

	raw []byte
}

// ParseReport decodes data and extracts the identifying fields.
func ParseReport(data []byte) (*Report, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrInvalidReport)
	}

	r := &Report{Body: body, raw: data}
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"device", &r.Device},
		{"version", &r.Version},
		{"experiment", &r.Experiment},
	} {
		var v string
		if err := json.Unmarshal(body[f.key], &v); err != nil || v == "" {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidReport, f.key)
		}
		*f.dst = v
	}
	return r, nil
}

// FileName returns "<timestamp>_<experiment>_<device>_<version>.json".
// Commas, slashes and dots in the device become dashes, as do dots in the
// version and experiment.
func (r *Report) FileName(t time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.json",
		t.Format(TimestampLayout),
		dotReplacer.Replace(r.Experiment),
		deviceReplacer.Replace(r.Device),
		dotReplacer.Replace(r.Version),
	)
}

// Marshal returns the posted document indented by four spaces. Reports
// built without ParseReport are encoded from Body.
func (r *Report) Marshal() ([]byte, error) {
	src := r.raw
	if src == nil {
		var err error
		if src, err = json.Marshal(r.Body); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(src), "", "    "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
