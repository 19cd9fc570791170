package ctr

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackFilename is used when a download has no crew information.
const FallbackFilename = "signed_document.pdf"

// FileKind selects the extension of an export.
type FileKind string

const (
	KindPDF FileKind = "PDF"
	KindPNG FileKind = "PNG"
)

// FilenameParams are the inputs of the export file name.
type FilenameParams struct {
	Date       string
	CrewNumber string
	FireName   string
	FireNumber string
	Kind       FileKind
}

// Filename builds a deterministic export name of the form
// CTR_<date>_<crew>_<fire name>_<fire number>.<ext>. Components are
// reduced to ASCII letters, digits and hyphens; empty ones are left out.
func Filename(p FilenameParams) string {
	parts := []string{"CTR"}
	for _, c := range []string{p.Date, p.CrewNumber, p.FireName, p.FireNumber} {
		if s := sanitize(c); s != "" {
			parts = append(parts, s)
		}
	}

	ext := ".pdf"
	if p.Kind == KindPNG {
		ext = ".png"
	}
	return strings.Join(parts, "_") + ext
}

// DownloadFilename returns Filename for the given crew and date, or
// FallbackFilename when either is missing.
func DownloadFilename(crew *CrewInfo, date string) string {
	if crew == nil || date == "" {
		return FallbackFilename
	}
	return Filename(FilenameParams{
		Date:       date,
		CrewNumber: crew.CrewNumber,
		FireName:   crew.FireName,
		FireNumber: crew.FireNumber,
		Kind:       KindPDF,
	})
}

func sanitize(s string) string {
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastSep := true
	for _, r := range folded {
		switch {
		case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastSep = false
		case r == '-':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteRune('-')
				lastSep = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
