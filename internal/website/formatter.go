package website

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abdulachik/multipost/internal/submission"
)

// AdvertisementHTML is appended to descriptions when advertising is enabled.
const AdvertisementHTML = `<p><a href="https://github.com/abdulachik/multipost">Posted using multipost</a></p>`

// Content is the resolved tags and description for one site.
type Content struct {
	Tags        []string
	Description string
}

// FormatOptions holds the registry-wide formatting settings.
type FormatOptions struct {
	Shortcuts []Shortcut
	Advertise bool
}

// Tags resolves the effective tags for a site. An override marked Extend is
// appended to the defaults, keeping order and duplicates; any other override
// replaces them.
func Tags(sub *submission.Submission, site string) []string {
	if sub.FormData == nil {
		return nil
	}

	var tags []string
	if d := sub.FormData.Defaults.Tags; d != nil {
		tags = append(tags, d.Tags...)
	}

	custom := sub.SiteForm(site).Tags
	if custom == nil {
		return tags
	}
	if custom.Extend {
		return append(tags, custom.Tags...)
	}
	return append([]string(nil), custom.Tags...)
}

// Description resolves the effective HTML description for a site. An override
// replaces the default only when marked Overwrite.
func Description(sub *submission.Submission, site string) string {
	if sub.FormData == nil {
		return ""
	}

	if custom := sub.SiteForm(site).Description; custom != nil && custom.Overwrite {
		return custom.Description
	}
	if d := sub.FormData.Defaults.Description; d != nil {
		return d.Description
	}
	return ""
}

// FormatContent merges defaults with the site overrides and runs the site's
// description pipeline: preparsers, username shortcuts, advertisement, parsers.
func FormatContent(sub *submission.Submission, desc Descriptor, opts FormatOptions) Content {
	description := Description(sub, desc.ID)

	for _, p := range desc.Preparsers {
		description = p(description)
	}

	description = ApplyShortcuts(description, opts.Shortcuts)

	if opts.Advertise && !desc.DisableAdvertise {
		description += AdvertisementHTML
	}

	for _, p := range desc.Parsers {
		description = p(description)
	}

	if desc.MaxDescriptionLength > 0 && !FitsInLimit(description, desc.MaxDescriptionLength) {
		description = Truncate(description, desc.MaxDescriptionLength)
	}

	return Content{
		Tags:        Tags(sub, desc.ID),
		Description: description,
	}
}

// ApplyShortcuts expands ":<code><name>:" into links for every known shortcut.
func ApplyShortcuts(description string, shortcuts []Shortcut) string {
	if len(shortcuts) == 0 || !strings.Contains(description, ":") {
		return description
	}

	byCode := make(map[string]string, len(shortcuts))
	codes := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		if _, ok := byCode[s.Code]; ok {
			continue
		}
		byCode[s.Code] = s.URL
		codes = append(codes, regexp.QuoteMeta(s.Code))
	}
	// Longest code first so "twx" wins over "tw".
	sort.Slice(codes, func(i, j int) bool { return len(codes[i]) > len(codes[j]) })

	re := regexp.MustCompile(`:(` + strings.Join(codes, "|") + `)([\w.\-]+):`)
	return re.ReplaceAllStringFunc(description, func(m string) string {
		parts := re.FindStringSubmatch(m)
		url := strings.ReplaceAll(byCode[parts[1]], "$1", parts[2])
		return `<a href="` + url + `">` + parts[2] + `</a>`
	})
}

// FitsInLimit checks if text fits within limit runes.
func FitsInLimit(text string, limit int) bool {
	return utf8.RuneCountInString(text) <= limit
}

// Truncate shortens text to at most maxLen runes, cutting at a word boundary
// when one is close and ending with an ellipsis.
func Truncate(text string, maxLen int) string {
	if FitsInLimit(text, maxLen) {
		return text
	}
	if maxLen <= 3 {
		return string([]rune(text)[:maxLen])
	}

	available := maxLen - 3
	truncated := string([]rune(text)[:available])

	// Only use the word boundary if it is not too far back
	if lastSpace := strings.LastIndexFunc(truncated, unicode.IsSpace); lastSpace > len(truncated)/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimRight(truncated, " .,;:!?\n") + "..."
}

// FormatHashtags renders tags as space separated hashtags.
func FormatHashtags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.FieldsFunc(tag, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		}), "")
		if tag != "" {
			out = append(out, "#"+tag)
		}
	}
	return strings.Join(out, " ")
}
