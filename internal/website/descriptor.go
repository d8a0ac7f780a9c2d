package website

import (
	"log/slog"

	"github.com/abdulachik/multipost/internal/htmlutil"
)

// Descriptor is the static metadata registered alongside an adapter.
type Descriptor struct {
	ID          string
	DisplayName string

	// AcceptedFiles lists lowercase extensions. Empty accepts anything.
	AcceptedFiles []string
	// MaxAdditionalFiles is the number of files allowed besides the primary one.
	MaxAdditionalFiles int

	SupportsFolders    bool
	SupportsJournal    bool
	SupportsScheduling bool

	Login Login

	// Preparsers run on the merged HTML description before username shortcuts.
	Preparsers []DescriptionParser
	// Parsers convert the HTML description into the site's format.
	Parsers []DescriptionParser

	DisableAdvertise bool
	UsernameShortcut *Shortcut

	// MaxDescriptionLength is in runes; zero means unlimited.
	MaxDescriptionLength int

	// Protocol documents the request/response shape used by the adapter.
	Protocol string
}

// Login describes how a user signs in to the site.
type Login struct {
	URL    string
	Dialog string
}

// Shortcut expands ":<code><name>:" into a link to a user on a site.
// URL holds "$1" where the name goes.
type Shortcut struct {
	Code string
	URL  string
}

// DescriptionParser transforms a description.
type DescriptionParser func(string) string

// ParsePlaintext renders HTML as plain text.
func ParsePlaintext(description string) string {
	return htmlutil.ToPlaintext(description)
}

// ParseMarkdown renders HTML as markdown, leaving the input untouched on error.
func ParseMarkdown(description string) string {
	out, err := htmlutil.ToMarkdown(description)
	if err != nil {
		slog.Warn("markdown conversion failed", "error", err)
		return description
	}
	return out
}
