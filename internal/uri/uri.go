// Package uri parses the Zotero item URIs stored in a Notion page's
// "Zotero URI" property into a structured reference.
package uri

import (
	"fmt"
	"regexp"
	"strconv"
)

// ItemRef is a parsed reference to a Zotero item, identifying the library it
// lives in (a personal "users" library or a shared "groups" library) and its
// item key within that library.
//
// LibraryID is 0 for personal-library URIs that were written as a username
// slug rather than a numeric id (e.g. https://zotero.org/mfromano/items/X).
// 0 is the Zotero API's own alias for "the owner of the current API key" and
// must be resolved against the authenticated user before use.
type ItemRef struct {
	LibraryType string // "users" or "groups"
	LibraryID   int64
	ItemKey     string
}

// APIBase returns the Zotero API base URL for this item's library.
func (r ItemRef) APIBase() string {
	return fmt.Sprintf("https://api.zotero.org/%s/%d", r.LibraryType, r.LibraryID)
}

// ItemURL returns the full Zotero API URL for this item.
func (r ItemRef) ItemURL() string {
	return fmt.Sprintf("%s/items/%s", r.APIBase(), r.ItemKey)
}

var (
	canonicalRe = regexp.MustCompile(`https?://(?:www\.)?zotero\.org/(users|groups)/(\d+)/items/([A-Z0-9]+)`)

	// userSlugRe matches personal library URIs like
	// https://zotero.org/mfromano/items/WFHVZPHT where the username is used
	// in place of a numeric user id.
	userSlugRe = regexp.MustCompile(`https?://(?:www\.)?zotero\.org/([a-zA-Z][a-zA-Z0-9_-]*)/items/([A-Z0-9]+)`)
)

// Parse parses a Zotero item URI. It accepts:
//
//	https://www.zotero.org/groups/483726/items/A5X7AKTH
//	https://zotero.org/users/12345/items/ABCD1234
//	https://zotero.org/mfromano/items/WFHVZPHT   (personal library by username)
//
// It returns false if uri does not match any known Zotero URI form.
func Parse(s string) (ItemRef, bool) {
	if m := canonicalRe.FindStringSubmatch(s); m != nil {
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ItemRef{}, false
		}
		return ItemRef{LibraryType: m[1], LibraryID: id, ItemKey: m[3]}, true
	}

	if m := userSlugRe.FindStringSubmatch(s); m != nil {
		return ItemRef{LibraryType: "users", LibraryID: 0, ItemKey: m[2]}, true
	}

	return ItemRef{}, false
}
