package cad

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// group is one DXF group code / value pair.
type group struct {
	code  int
	value string
}

// Insert is a block reference with its attribute values.
type Insert struct {
	Name       string            `json:"name"`
	Layer      string            `json:"layer,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Drawing is what the exchange reader pulls out of a DXF file.
type Drawing struct {
	Version      string
	Layers       []string
	Inserts      []Insert
	Texts        []string
	Dimensions   []string
	EntityCounts map[string]int
	TitleBlock   map[string]string
	// Truncated is set when the group stream ended in a malformed pair.
	Truncated error
}

var titleTagHints = []string{"title", "dwg", "drawing", "rev", "date", "scale", "project", "sheet"}

func readGroups(text string) ([]group, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var groups []group
	line := 0
	for sc.Scan() {
		line++
		codeText := strings.TrimSpace(sc.Text())
		if codeText == "" {
			continue
		}
		code, err := strconv.Atoi(codeText)
		if err != nil {
			return groups, fmt.Errorf("line %d: invalid group code %q", line, codeText)
		}
		if !sc.Scan() {
			return groups, fmt.Errorf("line %d: group code %d has no value", line, code)
		}
		line++
		groups = append(groups, group{code: code, value: strings.TrimRight(sc.Text(), "\r")})
	}
	if err := sc.Err(); err != nil {
		return groups, err
	}
	return groups, nil
}

// ParseDXF reads an ASCII DXF document.
func ParseDXF(text string) (*Drawing, error) {
	if strings.HasPrefix(text, "AutoCAD Binary DXF") {
		return nil, fmt.Errorf("binary dxf is not supported")
	}
	groups, readErr := readGroups(text)
	if len(groups) == 0 {
		if readErr == nil {
			readErr = fmt.Errorf("empty dxf")
		}
		return nil, readErr
	}

	d := &Drawing{
		EntityCounts: make(map[string]int),
		TitleBlock:   make(map[string]string),
		Truncated:    readErr,
	}

	var section string
	for i := 0; i < len(groups); i++ {
		g := groups[i]
		if g.code != 0 {
			continue
		}
		switch g.value {
		case "SECTION":
			if i+1 < len(groups) && groups[i+1].code == 2 {
				section = groups[i+1].value
			}
			continue
		case "ENDSEC":
			section = ""
			continue
		case "EOF":
			return d, nil
		}

		end := nextEntity(groups, i+1)
		body := groups[i+1 : end]
		switch section {
		case "HEADER":
		case "TABLES":
			if g.value == "LAYER" {
				if name := first(body, 2); name != "" {
					d.Layers = append(d.Layers, name)
				}
			}
		case "ENTITIES":
			d.entity(g.value, body)
		}
		i = end - 1
	}

	d.Version = headerVar(groups, "$ACADVER")
	return d, nil
}

func (d *Drawing) entity(kind string, body []group) {
	if kind == "SEQEND" {
		return
	}
	d.EntityCounts[kind]++
	switch kind {
	case "TEXT":
		if t := cleanText(first(body, 1)); t != "" {
			d.Texts = append(d.Texts, t)
		}
	case "MTEXT":
		var sb strings.Builder
		for _, g := range body {
			if g.code == 3 || g.code == 1 {
				sb.WriteString(g.value)
			}
		}
		if t := cleanText(sb.String()); t != "" {
			d.Texts = append(d.Texts, t)
		}
	case "INSERT":
		d.Inserts = append(d.Inserts, Insert{
			Name:       first(body, 2),
			Layer:      first(body, 8),
			Attributes: make(map[string]string),
		})
	case "ATTRIB":
		tag, value := first(body, 2), strings.TrimSpace(first(body, 1))
		if tag == "" || len(d.Inserts) == 0 {
			return
		}
		d.Inserts[len(d.Inserts)-1].Attributes[tag] = value
		if isTitleTag(tag) && value != "" {
			d.TitleBlock[tag] = value
		}
	case "DIMENSION":
		if override := cleanText(first(body, 1)); override != "" && override != "<>" {
			d.Dimensions = append(d.Dimensions, override)
		} else if m := first(body, 42); m != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(m), 64); err == nil {
				d.Dimensions = append(d.Dimensions, strconv.FormatFloat(f, 'f', -1, 64))
			}
		}
	}
}

// DrawingNumber picks the title block entry that names the drawing number.
func (d *Drawing) DrawingNumber() string {
	return d.titleValue(func(tag string) bool {
		return (strings.Contains(tag, "dwg") || strings.Contains(tag, "drawing")) &&
			(strings.Contains(tag, "no") || strings.Contains(tag, "num") || tag == "dwg" || tag == "drawing")
	})
}

func (d *Drawing) Revision() string {
	return d.titleValue(func(tag string) bool { return strings.Contains(tag, "rev") })
}

func (d *Drawing) titleValue(match func(tag string) bool) string {
	tags := make([]string, 0, len(d.TitleBlock))
	for tag := range d.TitleBlock {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if match(strings.ToLower(tag)) {
			return d.TitleBlock[tag]
		}
	}
	return ""
}

// Text renders the drawing as searchable lines.
func (d *Drawing) Text() string {
	var lines []string
	if len(d.TitleBlock) > 0 {
		lines = append(lines, "Title block: "+renderPairs(d.TitleBlock, "; "))
	}
	if len(d.Layers) > 0 {
		lines = append(lines, "Layers: "+strings.Join(d.Layers, ", "))
	}
	lines = append(lines, d.Texts...)
	for _, ins := range d.Inserts {
		if len(ins.Attributes) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("Block %s: %s", ins.Name, renderPairs(ins.Attributes, ", ")))
	}
	if len(d.Dimensions) > 0 {
		lines = append(lines, "Dimensions: "+strings.Join(d.Dimensions, ", "))
	}
	return strings.Join(lines, "\n")
}

func renderPairs(m map[string]string, sep string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, sep)
}

func isTitleTag(tag string) bool {
	t := strings.ToLower(tag)
	for _, hint := range titleTagHints {
		if strings.Contains(t, hint) {
			return true
		}
	}
	return false
}

func nextEntity(groups []group, from int) int {
	for i := from; i < len(groups); i++ {
		if groups[i].code == 0 {
			return i
		}
	}
	return len(groups)
}

func first(body []group, code int) string {
	for _, g := range body {
		if g.code == code {
			return g.value
		}
	}
	return ""
}

func headerVar(groups []group, name string) string {
	for i, g := range groups {
		if g.code == 9 && g.value == name && i+1 < len(groups) {
			if next := groups[i+1]; next.code != 9 && next.code != 0 {
				return strings.TrimSpace(next.value)
			}
		}
	}
	return ""
}

var (
	mtextFormat = regexp.MustCompile(`\\[ACcFfHhLlOoQqTtWw][^;\\{}]*;?`)
	mtextStack  = regexp.MustCompile(`\\S([^;]*);`)
)

// cleanText strips MTEXT inline formatting codes.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, `\P`, "\n")
	s = strings.ReplaceAll(s, `\~`, " ")
	s = mtextStack.ReplaceAllString(s, "$1")
	s = mtextFormat.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "", "}", "", "%%d", "°", "%%c", "Ø", "%%p", "±").Replace(s)
	return strings.TrimSpace(s)
}
