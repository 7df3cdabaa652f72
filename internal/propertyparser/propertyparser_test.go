package propertyparser

import (
	"testing"

	"github.com/jomei/notionapi"
)

func TestParseValue(t *testing.T) {
	t.Run("rich text joins plain text segments", func(t *testing.T) {
		prop := notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{PlainText: "Hello "},
				{PlainText: "world"},
			},
		}
		got := ParseValue(prop)
		if got != "Hello world" {
			t.Errorf("ParseValue() = %v, want %q", got, "Hello world")
		}
	})

	t.Run("empty rich text yields nil", func(t *testing.T) {
		prop := notionapi.RichTextProperty{}
		if got := ParseValue(prop); got != nil {
			t.Errorf("ParseValue() = %v, want nil", got)
		}
	})

	t.Run("multi select names", func(t *testing.T) {
		prop := notionapi.MultiSelectProperty{
			MultiSelect: []notionapi.Option{{Name: "a"}, {Name: "b"}},
		}
		got, ok := ParseValue(prop).([]string)
		if !ok || len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("ParseValue() = %v", got)
		}
	})

	t.Run("checkbox", func(t *testing.T) {
		prop := notionapi.CheckboxProperty{Checkbox: true}
		if got := ParseValue(prop); got != true {
			t.Errorf("ParseValue() = %v, want true", got)
		}
	})

	t.Run("unsupported type yields nil", func(t *testing.T) {
		prop := notionapi.PeopleProperty{}
		if got := ParseValue(prop); got != nil {
			t.Errorf("ParseValue() = %v, want nil", got)
		}
	})
}

func TestExtractSyncable(t *testing.T) {
	props := notionapi.Properties{
		"Zotero URI": notionapi.URLProperty{URL: "https://zotero.org/users/1/items/ABC"},
		"Abstract":   notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "an abstract"}}},
		"Empty":      notionapi.RichTextProperty{},
	}

	got := ExtractSyncable(props)

	if got["zotero_uri"] != "https://zotero.org/users/1/items/ABC" {
		t.Errorf("zotero_uri = %v", got["zotero_uri"])
	}
	if got["Abstract"] != "an abstract" {
		t.Errorf("Abstract = %v", got["Abstract"])
	}
	if _, ok := got["Empty"]; ok {
		t.Errorf("expected Empty property to be omitted, got %v", got["Empty"])
	}
}
