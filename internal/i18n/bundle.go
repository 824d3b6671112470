package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

const filePrefix = "messages_"

// Bundle holds one flat message catalog per locale.
type Bundle struct {
	def      language.Tag
	tags     []language.Tag // def first
	catalogs map[language.Tag]map[string]string
	matcher  language.Matcher
}

// LoadBundle reads messages_<tag>.yaml files from dir. defaultLocale must
// have a catalog.
func LoadBundle(dir, defaultLocale string) (*Bundle, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	catalogs := map[language.Tag]map[string]string{}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, filePrefix) || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), filepath.Ext(name))
		tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		msgs := map[string]string{}
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		catalogs[tag] = msgs
	}
	return NewBundle(defaultLocale, catalogs)
}

func NewBundle(defaultLocale string, catalogs map[language.Tag]map[string]string) (*Bundle, error) {
	def, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("default locale: %w", err)
	}
	if _, ok := catalogs[def]; !ok {
		return nil, fmt.Errorf("no messages for default locale %s", def)
	}
	b := &Bundle{def: def, catalogs: catalogs, tags: []language.Tag{def}}
	var rest []language.Tag
	for t := range catalogs {
		if t != def {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].String() < rest[j].String() })
	b.tags = append(b.tags, rest...)
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func (b *Bundle) Default() language.Tag { return b.def }

// Match picks the best supported locale for an Accept-Language header.
func (b *Bundle) Match(acceptLanguage string) language.Tag {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return b.def
	}
	_, idx, conf := b.matcher.Match(prefs...)
	if conf == language.No {
		return b.def
	}
	return b.tags[idx]
}

// Message resolves code in tag, then in the default locale, then returns the
// code itself. Args are applied with the locale's printer.
func (b *Bundle) Message(tag language.Tag, code string, args ...any) string {
	format, ok := b.catalogs[tag][code]
	if !ok {
		format, ok = b.catalogs[b.def][code]
		tag = b.def
	}
	if !ok {
		return code
	}
	if len(args) == 0 {
		return format
	}
	return message.NewPrinter(tag).Sprintf(format, args...)
}
