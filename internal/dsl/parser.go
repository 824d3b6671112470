package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+)(?:\s+extends\s+([\w.]+))?\s*:`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_.]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	collectionRe       = regexp.MustCompile(`^(collection|adorned|map)\[([A-Za-z0-9_.]+)\]$`)
	moduleRe           = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	entityOptionRe     = regexp.MustCompile(`^@(\w+)(?:\s*=\s*(.+))?$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// splitOptionTokens splits `k=v k2='v 2' pattern=^[A-Z0-9 _-]+$` into tokens.
// Spaces and commas separate tokens unless quoted or inside [...].
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t' || r == ',') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func splitEnumValues(inside string) []string {
	var out []string
	for _, p := range strings.Split(inside, ",") {
		if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadEntities reads one .dsl file.
func LoadEntities(path string) ([]*Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseEntities(file)
}

// ParseEntities parses DSL text.
func ParseEntities(r io.Reader) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	currentModule := ""
	inConstraints := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{
				Name:    m[1],
				Module:  currentModule,
				Extends: m[2],
				Options: map[string]string{},
			}
			inConstraints = false
			continue
		}
		if current == nil {
			continue
		}

		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				var set []string
				for _, p := range strings.Split(m[1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						set = append(set, p)
					}
				}
				if len(set) > 0 {
					current.Constraints.Unique = append(current.Constraints.Unique, set)
				}
				continue
			}
			inConstraints = false
		}

		if m := entityOptionRe.FindStringSubmatch(line); m != nil {
			v := strings.TrimSpace(m[2])
			if v == "" {
				v = "true"
			}
			current.Options[strings.ToLower(m[1])] = unquote(v)
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
		}
		f, err := parseField(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		current.Fields = append(current.Fields, f)
	}

	if current != nil {
		entities = append(entities, current)
	}
	return entities, scanner.Err()
}

func parseField(name, rawType, tail string) (Field, error) {
	// enum values may contain spaces after commas, glue the type back together
	if strings.HasPrefix(rawType, "enum[") && !strings.Contains(rawType, "]") {
		if idx := strings.Index(tail, "]"); idx >= 0 {
			rawType += tail[:idx+1]
			tail = tail[idx+1:]
		}
	}

	optsRaw := strings.TrimSpace(tail)
	if i := strings.IndexByte(optsRaw, '#'); i >= 0 {
		optsRaw = strings.TrimSpace(optsRaw[:i])
	}
	if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
		optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
	}

	f := Field{Name: name, Type: strings.ToLower(rawType), Options: map[string]string{}}

	switch {
	case enumRe.MatchString(rawType):
		f.Type = TypeEnum
		f.Enum = splitEnumValues(enumRe.FindStringSubmatch(rawType)[1])
	case refRe.MatchString(rawType):
		f.Type = TypeRef
		f.RefTarget = refRe.FindStringSubmatch(rawType)[1]
	case collectionRe.MatchString(rawType):
		mm := collectionRe.FindStringSubmatch(rawType)
		f.Type = mm[1]
		f.RefTarget = mm[2]
	default:
		switch f.Type {
		case "string", "text", "int", "float", "money", "bool", "date", "datetime", TypeEnum:
		default:
			return f, fmt.Errorf("field %q: unknown type %q", name, rawType)
		}
	}

	for _, tok := range splitOptionTokens(optsRaw) {
		if tok = strings.TrimSpace(tok); tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			f.Options[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		if k := strings.ToLower(strings.TrimSpace(kv[0])); k != "" {
			f.Options[k] = unquote(strings.TrimSpace(kv[1]))
		}
	}

	if f.Type == TypeEnum && f.Option("enum") == "" && len(f.Enum) == 0 {
		return f, fmt.Errorf("field %q: enum without values", name)
	}
	switch f.Type {
	case TypeCollection, TypeMap:
		if f.Option("via") == "" {
			return f, fmt.Errorf("field %q: %s requires via=", name, f.Type)
		}
	case TypeAdorned:
		for _, k := range []string{"join", "linked", "target"} {
			if f.Option(k) == "" {
				return f, fmt.Errorf("field %q: adorned requires %s=", name, k)
			}
		}
	}
	return f, nil
}

// LoadAllEntities walks root and returns entities keyed by FQN.
func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		ents, err := LoadEntities(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return Merge(result, ents, path)
	})
	if err != nil {
		return nil, err
	}
	if err := checkParents(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Merge adds ents to dst keyed by FQN, rejecting duplicates.
func Merge(dst map[string]*Entity, ents []*Entity, source string) error {
	for _, e := range ents {
		if e == nil || e.Name == "" {
			return fmt.Errorf("empty entity name in %s", source)
		}
		if e.Module == "" {
			return fmt.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, source)
		}
		if _, exists := dst[e.FQN()]; exists {
			return fmt.Errorf("duplicate entity %q in module %q (file: %s)", e.Name, e.Module, source)
		}
		dst[e.FQN()] = e
	}
	return nil
}

func checkParents(all map[string]*Entity) error {
	for fqn, e := range all {
		if e.Extends == "" {
			continue
		}
		parent := e.Extends
		if !strings.Contains(parent, ".") {
			parent = e.Module + "." + parent
		}
		if _, ok := all[parent]; !ok {
			return fmt.Errorf("entity %s extends unknown %s", fqn, e.Extends)
		}
		e.Extends = parent
	}
	return nil
}

// Build parses in-memory sources, used by tests and embedded catalogs.
func Build(sources ...string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)
	for i, src := range sources {
		ents, err := ParseEntities(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if err := Merge(result, ents, fmt.Sprintf("source %d", i)); err != nil {
			return nil, err
		}
	}
	if err := checkParents(result); err != nil {
		return nil, err
	}
	return result, nil
}
