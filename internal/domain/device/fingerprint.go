// Package device derives a stable pseudo-identifier for an anonymous browser.
//
// The fingerprint is not a security property. It only has to stay the same
// across reloads of the same browser profile so repeated guest visits resolve
// to the same backend device record. Collisions are possible.
package device

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Signals are the low-entropy browser properties the fingerprint is derived from.
type Signals struct {
	UserAgent      string
	Language       string
	Languages      []string
	Platform       string
	ScreenWidth    int
	ScreenHeight   int
	ColorDepth     int
	PixelRatio     float64
	TimezoneOffset int // minutes from UTC, as reported by the browser
	Timezone       string
}

// Fingerprint is a MAC-address shaped identifier (xx:xx:xx:xx:xx:xx).
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Hex returns the 12 hex digits without separators.
func (f Fingerprint) Hex() string { return strings.ReplaceAll(string(f), ":", "") }

const (
	hexWidth  = 12
	seedHigh  = 0
	seedLow   = 0x9e3779b9
	separator = "|"
)

// Compute is a pure function of its inputs: identical signals always yield
// the same fingerprint.
func Compute(s Signals) Fingerprint {
	canonical := s.canonical()

	hi := rollingHash(canonical, seedHigh)
	lo := rollingHash(canonical, seedLow)

	digits := fmt.Sprintf("%08x%08x", hi, lo)
	digits = fixWidth(digits, hexWidth)

	return Fingerprint(formatMAC(digits))
}

// canonical serialises the signals in a fixed field order.
func (s Signals) canonical() string {
	fields := []string{
		strings.TrimSpace(s.UserAgent),
		strings.ToLower(strings.TrimSpace(s.Language)),
		strings.ToLower(strings.Join(s.Languages, ",")),
		strings.TrimSpace(s.Platform),
		strconv.Itoa(s.ScreenWidth) + "x" + strconv.Itoa(s.ScreenHeight),
		strconv.Itoa(s.ColorDepth),
		strconv.FormatFloat(s.PixelRatio, 'f', 2, 64),
		strconv.Itoa(s.TimezoneOffset),
		strings.TrimSpace(s.Timezone),
	}
	return strings.Join(fields, separator)
}

// rollingHash is the classic h = h*31 + c over 32 bits, wrapping on overflow.
func rollingHash(s string, seed uint32) uint32 {
	h := seed
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// fixWidth truncates or left-pads with zeros to exactly n characters.
func fixWidth(s string, n int) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat("0", n-len(s)) + s
}

// formatMAC renders 12 hex digits as a unicast, locally administered address.
func formatMAC(digits string) string {
	first, err := strconv.ParseUint(digits[:2], 16, 8)
	if err != nil {
		first = 0
	}
	first = (first | 0x02) &^ 0x01

	var b strings.Builder
	b.Grow(17)
	fmt.Fprintf(&b, "%02x", first)
	for i := 2; i < len(digits); i += 2 {
		b.WriteByte(':')
		b.WriteString(digits[i : i+2])
	}
	return b.String()
}

// Headers the portal UI sends with layout and clock hints.
const (
	HeaderScreen   = "X-Portal-Screen"   // "1920x1080x24@2"
	HeaderTimezone = "X-Portal-Timezone" // "Africa/Nairobi;-180"
)

// SignalsFromHeader collects signals from a header set. Headers configured
// for a headless device use the same names a browser sends.
func SignalsFromHeader(h http.Header) Signals {
	s := Signals{
		UserAgent: h.Get("User-Agent"),
		Platform:  strings.Trim(h.Get("Sec-Ch-Ua-Platform"), `"`),
	}

	langs := parseAcceptLanguage(h.Get("Accept-Language"))
	if len(langs) > 0 {
		s.Language = langs[0]
		s.Languages = langs
	}

	parseScreen(h.Get(HeaderScreen), &s)
	parseTimezone(h.Get(HeaderTimezone), &s)
	return s
}

func parseAcceptLanguage(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = strings.TrimSpace(tag[:i])
		}
		if tag != "" && tag != "*" {
			out = append(out, tag)
		}
	}
	return out
}

// parseScreen accepts WIDTHxHEIGHT[xDEPTH][@RATIO]; malformed parts are ignored.
func parseScreen(v string, s *Signals) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if at := strings.IndexByte(v, '@'); at >= 0 {
		if ratio, err := strconv.ParseFloat(v[at+1:], 64); err == nil {
			s.PixelRatio = ratio
		}
		v = v[:at]
	}
	dims := strings.Split(v, "x")
	ints := make([]int, len(dims))
	for i, d := range dims {
		n, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return
		}
		ints[i] = n
	}
	if len(ints) >= 2 {
		s.ScreenWidth, s.ScreenHeight = ints[0], ints[1]
	}
	if len(ints) >= 3 {
		s.ColorDepth = ints[2]
	}
}

func parseTimezone(v string, s *Signals) {
	name, offset, found := strings.Cut(strings.TrimSpace(v), ";")
	s.Timezone = strings.TrimSpace(name)
	if !found {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(offset)); err == nil {
		s.TimezoneOffset = n
	}
}
