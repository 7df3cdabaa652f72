// Package propertyparser projects a Notion page's typed properties into
// plain Go values (string, []string, float64, bool) for the fields this
// service syncs to Zotero.
package propertyparser

import (
	"strings"

	"github.com/jomei/notionapi"
)

// ZoteroURIField is the Notion property name holding the Zotero item URI
// that links a page to a Zotero item.
const ZoteroURIField = "Zotero URI"

// ParseValue extracts a Go value from a single Notion property by
// auto-detecting its type. It returns nil for empty or unsupported
// properties. Possible concrete types: string, []string, float64, bool.
func ParseValue(prop notionapi.Property) any {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(p.Title)
	case notionapi.TitleProperty:
		return joinRichText(p.Title)

	case *notionapi.RichTextProperty:
		return joinRichText(p.RichText)
	case notionapi.RichTextProperty:
		return joinRichText(p.RichText)

	case *notionapi.URLProperty:
		return nonEmpty(p.URL)
	case notionapi.URLProperty:
		return nonEmpty(p.URL)

	case *notionapi.SelectProperty:
		if p.Select.Name != "" {
			return p.Select.Name
		}
	case notionapi.SelectProperty:
		if p.Select.Name != "" {
			return p.Select.Name
		}

	case *notionapi.MultiSelectProperty:
		return multiSelectNames(p.MultiSelect)
	case notionapi.MultiSelectProperty:
		return multiSelectNames(p.MultiSelect)

	case *notionapi.NumberProperty:
		return p.Number
	case notionapi.NumberProperty:
		return p.Number

	case *notionapi.CheckboxProperty:
		return bool(p.Checkbox)
	case notionapi.CheckboxProperty:
		return bool(p.Checkbox)

	case *notionapi.DateProperty:
		return dateStart(p.Date)
	case notionapi.DateProperty:
		return dateStart(p.Date)
	}

	return nil
}

func joinRichText(rt []notionapi.RichText) any {
	if len(rt) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, t := range rt {
		sb.WriteString(t.PlainText)
	}
	s := sb.String()
	if s == "" {
		return nil
	}
	return s
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func multiSelectNames(opts []notionapi.Option) any {
	if len(opts) == 0 {
		return []string{}
	}
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.Name)
	}
	return names
}

func dateStart(d *notionapi.DateObject) any {
	if d == nil || d.Start == nil {
		return nil
	}
	return d.Start.String()
}

// ExtractSyncable extracts the subset of a Notion page's properties that
// this service cares about into a normalized map. The Zotero URI property is
// always surfaced under the key "zotero_uri" (or absent, if unset), and
// every other non-empty property is surfaced under its own (trimmed) name.
func ExtractSyncable(properties notionapi.Properties) map[string]any {
	result := make(map[string]any, len(properties))

	for name, prop := range properties {
		if name == ZoteroURIField {
			if v := ParseValue(prop); v != nil {
				result["zotero_uri"] = v
			}
			continue
		}

		key := strings.TrimSpace(name)
		if v := ParseValue(prop); v != nil {
			result[key] = v
		}
	}

	return result
}
