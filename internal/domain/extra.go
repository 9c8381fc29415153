package domain

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Extra holds object members that are not modelled here. They survive a
// load/save cycle and are written after the known fields in key order.
type Extra map[string]json.RawMessage

func splitExtra(data []byte, known ...string) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return Extra(all), nil
}

func marshalPlain(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func appendExtra(obj []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return obj, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.Write(obj[:len(obj)-1])
	sep := len(bytes.TrimSpace(obj[1:len(obj)-1])) > 0
	for _, k := range keys {
		if sep {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[k])
		sep = true
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Role) MarshalJSON() ([]byte, error) {
	type plain Role
	b, err := marshalPlain(plain(r))
	if err != nil {
		return nil, err
	}
	return appendExtra(b, r.Extra)
}

func (r *Role) UnmarshalJSON(data []byte) error {
	type plain Role
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, "id", "name", "status", "currentTask")
	if err != nil {
		return err
	}
	*r = Role(p)
	r.Extra = extra
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	b, err := marshalPlain(plain(m))
	if err != nil {
		return nil, err
	}
	return appendExtra(b, m.Extra)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, "lastUpdate")
	if err != nil {
		return err
	}
	*m = Metadata(p)
	m.Extra = extra
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	b, err := marshalPlain(plain(d))
	if err != nil {
		return nil, err
	}
	return appendExtra(b, d.Extra)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, "roles", "events", "metadata")
	if err != nil {
		return err
	}
	*d = Document(p)
	d.Extra = extra
	return nil
}
