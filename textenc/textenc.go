// Package textenc is the single text-encoding boundary of papercloud.
//
// Everything inside the process is UTF-8. Bytes coming from a dataset in a
// legacy encoding are decoded here, and strings handed to an output that
// cannot take UTF-8 are narrowed here. Both directions are lossy: characters
// that cannot be represented are replaced, and a hard failure yields "".
package textenc

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeandeaual/go-locale"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

// Lookup returns the encoding registered under name. An empty name selects
// the encoding of the active locale.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LocaleEncoding(), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	return enc, nil
}

// LocaleEncoding returns the codeset named by LC_ALL, LC_CTYPE or LANG
// (for example "en_GB.UTF-8" or "de_DE.ISO-8859-1"), falling back to UTF-8.
func LocaleEncoding() encoding.Encoding {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		codeset := v
		if i := strings.IndexByte(codeset, '.'); i >= 0 {
			codeset = codeset[i+1:]
		} else {
			continue
		}
		if i := strings.IndexByte(codeset, '@'); i >= 0 {
			codeset = codeset[:i]
		}
		if enc, err := htmlindex.Get(codeset); err == nil {
			return enc
		}
	}
	return unicode.UTF8
}

// Locale returns the language tag of the active user locale, or English when
// it cannot be determined.
func Locale() language.Tag {
	name, err := locale.GetLocale()
	if err != nil || name == "" {
		return language.English
	}
	tag, err := language.Parse(strings.ReplaceAll(name, "_", "-"))
	if err != nil {
		return language.English
	}
	return tag
}

// NewReader decodes r from enc into UTF-8. Invalid sequences become U+FFFD.
func NewReader(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc == nil || enc == unicode.UTF8 {
		return transform.NewReader(r, unicode.UTF8.NewDecoder())
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// Transcode decodes b from enc into a UTF-8 string. It returns "" on error.
func Transcode(b []byte, enc encoding.Encoding) string {
	if enc == nil {
		enc = unicode.UTF8
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// Narrow encodes s into enc, replacing characters enc cannot represent.
// It returns "" on error.
func Narrow(s string, enc encoding.Encoding) string {
	if enc == nil || enc == unicode.UTF8 {
		return strings.ToValidUTF8(s, "�")
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(s)
	if err != nil {
		return ""
	}
	return out
}
