package device

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var macPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

func sampleSignals() Signals {
	return Signals{
		UserAgent:      "Mozilla/5.0 (Linux; Android 13) Chrome/120.0",
		Language:       "en-KE",
		Languages:      []string{"en-KE", "sw"},
		Platform:       "Android",
		ScreenWidth:    412,
		ScreenHeight:   915,
		ColorDepth:     24,
		PixelRatio:     2.625,
		TimezoneOffset: -180,
		Timezone:       "Africa/Nairobi",
	}
}

func TestCompute_Idempotent(t *testing.T) {
	s := sampleSignals()
	first := Compute(s)
	for range 100 {
		assert.Equal(t, first, Compute(s))
	}
}

func TestCompute_FixedShape(t *testing.T) {
	inputs := []Signals{
		{},
		sampleSignals(),
		{UserAgent: strings.Repeat("x", 10_000)},
	}
	for _, in := range inputs {
		fp := Compute(in)
		assert.Regexp(t, macPattern, fp.String())
		assert.Len(t, fp.Hex(), 12)
	}
}

func TestCompute_UnicastLocallyAdministered(t *testing.T) {
	fp := Compute(sampleSignals())
	first, err := strconv.ParseUint(fp.String()[:2], 16, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x02), first&0x02, "locally administered bit must be set")
	assert.Equal(t, uint64(0), first&0x01, "multicast bit must be clear")
}

func TestCompute_DifferentSignalsUsuallyDiffer(t *testing.T) {
	a := sampleSignals()
	b := sampleSignals()
	b.ScreenWidth = 1920
	assert.NotEqual(t, Compute(a), Compute(b))
}

func TestSignalsFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "UA/1.0")
	h.Set("Accept-Language", "en-KE,en;q=0.9,sw;q=0.8,*;q=0.1")
	h.Set("Sec-Ch-Ua-Platform", `"Android"`)
	h.Set(HeaderScreen, "412x915x24@2.625")
	h.Set(HeaderTimezone, "Africa/Nairobi;-180")

	s := SignalsFromHeader(h)
	assert.Equal(t, "UA/1.0", s.UserAgent)
	assert.Equal(t, "en-KE", s.Language)
	assert.Equal(t, []string{"en-KE", "en", "sw"}, s.Languages)
	assert.Equal(t, "Android", s.Platform)
	assert.Equal(t, 412, s.ScreenWidth)
	assert.Equal(t, 915, s.ScreenHeight)
	assert.Equal(t, 24, s.ColorDepth)
	assert.InDelta(t, 2.625, s.PixelRatio, 0.0001)
	assert.Equal(t, "Africa/Nairobi", s.Timezone)
	assert.Equal(t, -180, s.TimezoneOffset)
}

func TestSignalsFromHeader_SameHeadersSameFingerprint(t *testing.T) {
	mk := func() Fingerprint {
		h := http.Header{}
		h.Set("User-Agent", "UA/1.0")
		h.Set(HeaderScreen, "bogus")
		return Compute(SignalsFromHeader(h))
	}
	assert.Equal(t, mk(), mk())
}
