// Package blockrender renders a Notion block tree to the HTML fragment
// Zotero stores as a note body, and computes a structural content hash used
// to detect whether a section actually changed.
package blockrender

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
)

// htmlEscaper matches Python's html.escape(s, quote=True): & and < and > are
// escaped the usual way, but quotes use &quot;/&#x27; rather than Go's
// html.EscapeString, which emits &#34;/&#39;. Zotero's note HTML is compared
// against the Python original's output, so the entities must match exactly.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// richTextToHTML renders a Notion rich-text run as HTML, nesting annotations
// in a fixed order (code, then bold, italic, underline, strikethrough, with
// a link wrap applied outermost last) so formatting always nests the same
// way regardless of which annotations are set.
func richTextToHTML(runs []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range runs {
		text := escapeHTML(rt.PlainText)

		ann := rt.Annotations
		if ann != nil {
			if ann.Code {
				text = "<code>" + text + "</code>"
			}
			if ann.Bold {
				text = "<strong>" + text + "</strong>"
			}
			if ann.Italic {
				text = "<em>" + text + "</em>"
			}
			if ann.Underline {
				text = "<u>" + text + "</u>"
			}
			if ann.Strikethrough {
				text = "<s>" + text + "</s>"
			}
		}

		if rt.Href != "" {
			text = fmt.Sprintf(`<a href="%s">%s</a>`, escapeHTML(rt.Href), text)
		}

		sb.WriteString(text)
	}
	return sb.String()
}

// blockToHTML renders a single block's own content to an HTML fragment,
// with no list-grouping (that is ToHTML's responsibility).
func blockToHTML(block notionapi.Block) string {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		content := richTextToHTML(b.Paragraph.RichText)
		if content == "" {
			return "<p></p>"
		}
		return "<p>" + content + "</p>"

	case *notionapi.Heading1Block:
		return "<h1>" + richTextToHTML(b.Heading1.RichText) + "</h1>"

	case *notionapi.Heading2Block:
		return "<h2>" + richTextToHTML(b.Heading2.RichText) + "</h2>"

	case *notionapi.Heading3Block:
		return "<h3>" + richTextToHTML(b.Heading3.RichText) + "</h3>"

	case *notionapi.BulletedListItemBlock:
		return "<li>" + richTextToHTML(b.BulletedListItem.RichText) + "</li>"

	case *notionapi.NumberedListItemBlock:
		return "<li>" + richTextToHTML(b.NumberedListItem.RichText) + "</li>"

	case *notionapi.ToDoBlock:
		checkbox := ""
		if b.ToDo.Checked {
			checkbox = "checked "
		}
		return fmt.Sprintf(`<li><input type="checkbox" %sdisabled />%s</li>`,
			checkbox, richTextToHTML(b.ToDo.RichText))

	case *notionapi.QuoteBlock:
		return "<blockquote>" + richTextToHTML(b.Quote.RichText) + "</blockquote>"

	case *notionapi.CodeBlock:
		return "<pre><code>" + richTextToHTML(b.Code.RichText) + "</code></pre>"

	case *notionapi.DividerBlock:
		return "<hr />"

	case *notionapi.CalloutBlock:
		return "<p>" + richTextToHTML(b.Callout.RichText) + "</p>"

	default:
		if content := richTextToHTML(extractRichText(block)); content != "" {
			return "<p>" + content + "</p>"
		}
		return ""
	}
}

// extractRichText best-effort extracts rich text from block types
// blockToHTML has no dedicated rendering for, so unsupported block types
// with text content still surface something rather than vanishing.
func extractRichText(block notionapi.Block) []notionapi.RichText {
	switch b := block.(type) {
	case *notionapi.ToggleBlock:
		return b.Toggle.RichText
	default:
		return nil
	}
}

// ToHTML renders a flat list of blocks to the Zotero note body HTML.
// Consecutive bulleted_list_item and to_do blocks are grouped into a single
// <ul>; consecutive numbered_list_item blocks are grouped into a single
// <ol>. Any other block flushes the list buffer first.
func ToHTML(blocks []notionapi.Block) string {
	var parts []string
	var listBuffer []string
	var listTag string // "ul" or "ol"

	flush := func() {
		if len(listBuffer) > 0 && listTag != "" {
			parts = append(parts, fmt.Sprintf("<%s>%s</%s>", listTag, strings.Join(listBuffer, ""), listTag))
			listBuffer = nil
			listTag = ""
		}
	}

	for _, block := range blocks {
		switch block.(type) {
		case *notionapi.BulletedListItemBlock:
			if listTag != "ul" {
				flush()
				listTag = "ul"
			}
			listBuffer = append(listBuffer, blockToHTML(block))
		case *notionapi.ToDoBlock:
			if listTag != "ul" {
				flush()
				listTag = "ul"
			}
			listBuffer = append(listBuffer, blockToHTML(block))
		case *notionapi.NumberedListItemBlock:
			if listTag != "ol" {
				flush()
				listTag = "ol"
			}
			listBuffer = append(listBuffer, blockToHTML(block))
		default:
			flush()
			if h := blockToHTML(block); h != "" {
				parts = append(parts, h)
			}
		}
	}
	flush()

	return strings.Join(parts, "\n")
}

// contentProjection is the structural projection of a block used for
// hashing: only the fields that affect rendered output, never ids or
// timestamps, so identical content hashes identically across fetches.
type contentProjection struct {
	Type     string               `json:"type"`
	RichText []richTextProjection `json:"rich_text"`
	Checked  *bool                `json:"checked"`
}

type richTextProjection struct {
	PlainText   string                 `json:"plain_text"`
	Annotations *notionapi.Annotations `json:"annotations"`
	Href        string                 `json:"href"`
}

// Hash computes a SHA-256 hex digest over the structural content of a block
// list: each block's type, rich text, and checked state. Block ids and
// timestamps are deliberately excluded so the hash is stable across
// re-fetches of unchanged content.
func Hash(blocks []notionapi.Block) string {
	projections := make([]contentProjection, len(blocks))
	for i, block := range blocks {
		projections[i] = projectBlock(block)
	}

	serialized, err := json.Marshal(projections)
	if err != nil {
		// contentProjection only contains marshalable primitives; this
		// cannot fail in practice.
		panic(fmt.Sprintf("blockrender: marshal content projection: %v", err))
	}

	sum := sha256.Sum256(serialized)
	return fmt.Sprintf("%x", sum)
}

func projectBlock(block notionapi.Block) contentProjection {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return contentProjection{Type: "paragraph", RichText: projectRichText(b.Paragraph.RichText)}
	case *notionapi.Heading1Block:
		return contentProjection{Type: "heading_1", RichText: projectRichText(b.Heading1.RichText)}
	case *notionapi.Heading2Block:
		return contentProjection{Type: "heading_2", RichText: projectRichText(b.Heading2.RichText)}
	case *notionapi.Heading3Block:
		return contentProjection{Type: "heading_3", RichText: projectRichText(b.Heading3.RichText)}
	case *notionapi.BulletedListItemBlock:
		return contentProjection{Type: "bulleted_list_item", RichText: projectRichText(b.BulletedListItem.RichText)}
	case *notionapi.NumberedListItemBlock:
		return contentProjection{Type: "numbered_list_item", RichText: projectRichText(b.NumberedListItem.RichText)}
	case *notionapi.ToDoBlock:
		checked := b.ToDo.Checked
		return contentProjection{Type: "to_do", RichText: projectRichText(b.ToDo.RichText), Checked: &checked}
	case *notionapi.QuoteBlock:
		return contentProjection{Type: "quote", RichText: projectRichText(b.Quote.RichText)}
	case *notionapi.CodeBlock:
		return contentProjection{Type: "code", RichText: projectRichText(b.Code.RichText)}
	case *notionapi.CalloutBlock:
		return contentProjection{Type: "callout", RichText: projectRichText(b.Callout.RichText)}
	case *notionapi.DividerBlock:
		return contentProjection{Type: "divider"}
	default:
		return contentProjection{Type: "unknown", RichText: projectRichText(extractRichText(block))}
	}
}

func projectRichText(runs []notionapi.RichText) []richTextProjection {
	if len(runs) == 0 {
		return []richTextProjection{}
	}
	out := make([]richTextProjection, len(runs))
	for i, rt := range runs {
		out[i] = richTextProjection{PlainText: rt.PlainText, Annotations: rt.Annotations, Href: rt.Href}
	}
	return out
}

// HeadingText returns the plain-text content of a heading block, or "" if
// block is not a heading. Used to discover note sections by heading.
func HeadingText(block notionapi.Block) (string, bool) {
	switch b := block.(type) {
	case *notionapi.Heading1Block:
		return plainText(b.Heading1.RichText), true
	case *notionapi.Heading2Block:
		return plainText(b.Heading2.RichText), true
	case *notionapi.Heading3Block:
		return plainText(b.Heading3.RichText), true
	default:
		return "", false
	}
}

func plainText(runs []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range runs {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}
