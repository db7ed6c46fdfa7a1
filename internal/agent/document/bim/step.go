package bim

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

type valueKind int

const (
	kindNull valueKind = iota
	kindDerived
	kindString
	kindNumber
	kindEnum
	kindRef
	kindList
	kindTyped
)

// value is one STEP parameter.
type value struct {
	kind  valueKind
	str   string // string, enum name, number literal, or type name for kindTyped
	ref   int
	items []value
}

// instance is "#id=TYPE(params);".
type instance struct {
	id     int
	typ    string
	params []value
}

func (in *instance) param(i int) value {
	if i < 0 || i >= len(in.params) {
		return value{kind: kindNull}
	}
	return in.params[i]
}

func (in *instance) stringParam(i int) string {
	v := in.param(i)
	if v.kind == kindString {
		return v.str
	}
	return ""
}

func (v value) refs() []int {
	switch v.kind {
	case kindRef:
		return []int{v.ref}
	case kindList:
		var out []int
		for _, item := range v.items {
			if item.kind == kindRef {
				out = append(out, item.ref)
			}
		}
		return out
	}
	return nil
}

// render turns a nominal value into display text.
func (v value) render() string {
	switch v.kind {
	case kindString:
		return v.str
	case kindNumber:
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return v.str
	case kindEnum:
		switch v.str {
		case "T":
			return "true"
		case "F":
			return "false"
		case "U":
			return "unknown"
		}
		return strings.ToLower(v.str)
	case kindTyped:
		if len(v.items) == 1 {
			return v.items[0].render()
		}
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.render()
		}
		return strings.Join(parts, ",")
	case kindList:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.render()
		}
		return "(" + strings.Join(parts, ",") + ")"
	case kindRef:
		return "#" + strconv.Itoa(v.ref)
	}
	return ""
}

// header is the parsed HEADER section.
type header struct {
	FileName       string
	Timestamp      string
	OriginatingApp string
	Schemas        []string
}

// stepFile is the parsed physical file.
type stepFile struct {
	header    header
	instances map[int]*instance
	order     []int
	skipped   int
	firstErr  error
}

// splitStatements splits on ';' outside of quoted strings.
func splitStatements(s string) []string {
	var out []string
	var sb strings.Builder
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			if inStr && i+1 < len(s) && s[i+1] == '\'' {
				sb.WriteString("''")
				i++
				continue
			}
			inStr = !inStr
			sb.WriteByte(c)
		case c == ';' && !inStr:
			if stmt := strings.TrimSpace(sb.String()); stmt != "" {
				out = append(out, stmt)
			}
			sb.Reset()
		case c == '/' && !inStr && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = len(s)
			} else {
				i += end + 3
			}
		default:
			sb.WriteByte(c)
		}
	}
	if stmt := strings.TrimSpace(sb.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func parseStep(text string) (*stepFile, error) {
	if !strings.HasPrefix(strings.TrimSpace(text), "ISO-10303-21") {
		return nil, fmt.Errorf("missing ISO-10303-21 header")
	}
	f := &stepFile{instances: make(map[int]*instance)}

	section := ""
	for _, stmt := range splitStatements(text) {
		upper := strings.ToUpper(stmt)
		switch {
		case upper == "HEADER":
			section = "HEADER"
			continue
		case upper == "DATA" || strings.HasPrefix(upper, "DATA("):
			section = "DATA"
			continue
		case upper == "ENDSEC":
			section = ""
			continue
		case strings.HasPrefix(upper, "ISO-10303-21"), strings.HasPrefix(upper, "END-ISO-10303-21"):
			continue
		}

		switch section {
		case "HEADER":
			f.headerEntry(stmt)
		case "DATA":
			in, err := parseInstance(stmt)
			if err != nil {
				f.skipped++
				if f.firstErr == nil {
					f.firstErr = err
				}
				continue
			}
			f.instances[in.id] = in
			f.order = append(f.order, in.id)
		}
	}
	if len(f.instances) == 0 {
		if f.firstErr != nil {
			return nil, f.firstErr
		}
		return nil, fmt.Errorf("no DATA instances")
	}
	return f, nil
}

func (f *stepFile) headerEntry(stmt string) {
	open := strings.IndexByte(stmt, '(')
	if open < 0 {
		return
	}
	name := strings.ToUpper(strings.TrimSpace(stmt[:open]))
	p := &paramParser{s: stmt[open:]}
	args, err := p.list()
	if err != nil {
		return
	}
	switch name {
	case "FILE_NAME":
		in := &instance{params: args}
		f.header.FileName = in.stringParam(0)
		f.header.Timestamp = in.stringParam(1)
		f.header.OriginatingApp = in.stringParam(5)
	case "FILE_SCHEMA":
		if len(args) > 0 {
			for _, item := range args[0].items {
				if item.kind == kindString {
					f.header.Schemas = append(f.header.Schemas, item.str)
				}
			}
		}
	}
}

func parseInstance(stmt string) (*instance, error) {
	if !strings.HasPrefix(stmt, "#") {
		return nil, fmt.Errorf("unexpected statement %.40q", stmt)
	}
	eq := strings.IndexByte(stmt, '=')
	if eq < 0 {
		return nil, fmt.Errorf("instance without '=': %.40q", stmt)
	}
	id, err := strconv.Atoi(strings.TrimSpace(stmt[1:eq]))
	if err != nil {
		return nil, fmt.Errorf("bad instance id %.20q", stmt[1:eq])
	}
	rest := strings.TrimSpace(stmt[eq+1:])
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return nil, fmt.Errorf("instance #%d has no parameter list", id)
	}
	p := &paramParser{s: rest[open:]}
	params, err := p.list()
	if err != nil {
		return nil, fmt.Errorf("instance #%d: %w", id, err)
	}
	return &instance{id: id, typ: strings.ToUpper(strings.TrimSpace(rest[:open])), params: params}, nil
}

// paramParser is a recursive descent reader for STEP parameter lists.
type paramParser struct {
	s   string
	pos int
}

func (p *paramParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *paramParser) list() ([]value, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return nil, fmt.Errorf("expected '(' at %d", p.pos)
	}
	p.pos++
	var items []value
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated list")
		}
		if p.s[p.pos] == ')' {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos < len(p.s) && p.s[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *paramParser) value() (value, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return value{}, fmt.Errorf("unexpected end of parameters")
	}
	c := p.s[p.pos]
	switch {
	case c == '$':
		p.pos++
		return value{kind: kindNull}, nil
	case c == '*':
		p.pos++
		return value{kind: kindDerived}, nil
	case c == '\'':
		return p.str()
	case c == '#':
		start := p.pos + 1
		p.pos++
		for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
			p.pos++
		}
		id, err := strconv.Atoi(p.s[start:p.pos])
		if err != nil {
			return value{}, fmt.Errorf("bad reference at %d", start)
		}
		return value{kind: kindRef, ref: id}, nil
	case c == '.':
		end := strings.IndexByte(p.s[p.pos+1:], '.')
		if end < 0 {
			return value{}, fmt.Errorf("unterminated enum")
		}
		v := value{kind: kindEnum, str: p.s[p.pos+1 : p.pos+1+end]}
		p.pos += end + 2
		return v, nil
	case c == '(':
		items, err := p.list()
		if err != nil {
			return value{}, err
		}
		return value{kind: kindList, items: items}, nil
	case c == '"':
		end := strings.IndexByte(p.s[p.pos+1:], '"')
		if end < 0 {
			return value{}, fmt.Errorf("unterminated binary")
		}
		v := value{kind: kindString, str: p.s[p.pos+1 : p.pos+1+end]}
		p.pos += end + 2
		return v, nil
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		start := p.pos
		p.pos++
		for p.pos < len(p.s) && strings.IndexByte("0123456789.eE+-", p.s[p.pos]) >= 0 {
			p.pos++
		}
		return value{kind: kindNumber, str: p.s[start:p.pos]}, nil
	case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
		start := p.pos
		for p.pos < len(p.s) && (isIdent(p.s[p.pos])) {
			p.pos++
		}
		typ := strings.ToUpper(p.s[start:p.pos])
		items, err := p.list()
		if err != nil {
			return value{}, err
		}
		return value{kind: kindTyped, str: typ, items: items}, nil
	}
	return value{}, fmt.Errorf("unexpected %q at %d", c, p.pos)
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func (p *paramParser) str() (value, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\'' {
			if p.pos+1 < len(p.s) && p.s[p.pos+1] == '\'' {
				sb.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return value{kind: kindString, str: decodeStepString(sb.String())}, nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return value{}, fmt.Errorf("unterminated string")
}

// decodeStepString resolves the \X\hh, \X2\...\X0\ and \S\c control
// directives used for non-ASCII characters.
func decodeStepString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], `\X2\`):
			end := strings.Index(s[i+4:], `\X0\`)
			if end < 0 {
				sb.WriteString(s[i:])
				return sb.String()
			}
			raw, err := hex.DecodeString(s[i+4 : i+4+end])
			if err == nil && len(raw)%2 == 0 {
				units := make([]uint16, len(raw)/2)
				for j := range units {
					units[j] = uint16(raw[2*j])<<8 | uint16(raw[2*j+1])
				}
				sb.WriteString(string(utf16.Decode(units)))
			}
			i += 4 + end + 4
		case strings.HasPrefix(s[i:], `\X\`) && i+5 <= len(s):
			if b, err := hex.DecodeString(s[i+3 : i+5]); err == nil {
				sb.WriteRune(rune(b[0]))
			}
			i += 5
		case strings.HasPrefix(s[i:], `\S\`) && i+4 <= len(s):
			sb.WriteRune(rune(s[i+3]) + 128)
			i += 4
		case strings.HasPrefix(s[i:], `\\`):
			sb.WriteByte('\\')
			i += 2
		default:
			sb.WriteByte(s[i])
			i++
		}
	}
	return sb.String()
}
