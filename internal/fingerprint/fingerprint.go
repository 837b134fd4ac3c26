// Package fingerprint models the browser configurations whose Math.random()
// state a vulnerable wallet inherited. Each record carries an estimated
// market share; the enumerator visits high-share configurations first so
// the most probable wallet generation contexts are scanned early.
package fingerprint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/garnizeh/randstorm-scanner/internal/prng"
)

// Fingerprint is one browser/environment configuration. Records are
// immutable after load.
type Fingerprint struct {
	ID             int
	UserAgent      string
	ScreenWidth    uint32
	ScreenHeight   uint32
	ColorDepth     uint8
	TimezoneOffset int16
	Language       string
	Platform       string
	// Weight is the estimated market share of this configuration during
	// its valid years. Drives enumeration order.
	Weight  float64
	YearMin uint16
	YearMax uint16
	// Engine selects which historical PRNG reconstruction applies.
	Engine prng.Algorithm
}

// Components returns the seed inputs for this configuration.
func (f Fingerprint) Components() prng.Components {
	return prng.Components{
		UserAgent:      f.UserAgent,
		ScreenWidth:    f.ScreenWidth,
		ScreenHeight:   f.ScreenHeight,
		ColorDepth:     f.ColorDepth,
		TimezoneOffset: f.TimezoneOffset,
		Language:       f.Language,
		Platform:       f.Platform,
	}
}

// Sort orders fingerprints by descending weight, ties broken by ascending
// ID. The order is deterministic and observable through the enumerator.
func Sort(fps []Fingerprint) {
	sort.SliceStable(fps, func(i, j int) bool {
		if fps[i].Weight != fps[j].Weight {
			return fps[i].Weight > fps[j].Weight
		}
		return fps[i].ID < fps[j].ID
	})
}

// Validate checks schema constraints before a scan starts. Violations are
// configuration errors and block the scan.
func Validate(fps []Fingerprint) error {
	if len(fps) == 0 {
		return fmt.Errorf("fingerprint: empty collection")
	}
	seen := make(map[int]struct{}, len(fps))
	for _, f := range fps {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("fingerprint: duplicate id %d", f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.UserAgent == "" {
			return fmt.Errorf("fingerprint %d: empty user agent", f.ID)
		}
		if f.ScreenWidth == 0 || f.ScreenHeight == 0 {
			return fmt.Errorf("fingerprint %d: zero screen dimensions", f.ID)
		}
		if f.Weight < 0 || f.Weight > 1 {
			return fmt.Errorf("fingerprint %d: weight %v out of [0,1]", f.ID, f.Weight)
		}
		if f.YearMax != 0 && f.YearMin > f.YearMax {
			return fmt.Errorf("fingerprint %d: year range %d-%d inverted", f.ID, f.YearMin, f.YearMax)
		}
	}
	return nil
}

// csv column layout, matching the curated configuration database shipped
// with the research data set.
var csvHeader = []string{
	"id", "user_agent", "screen_width", "screen_height", "color_depth",
	"timezone_offset", "language", "platform", "weight", "year_min",
	"year_max", "engine",
}

// LoadCSV parses a fingerprint database, validates it and returns it
// sorted by weight. Malformed rows are configuration errors.
func LoadCSV(r io.Reader) ([]Fingerprint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: read header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("fingerprint: header has %d columns, want %d", len(header), len(csvHeader))
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("fingerprint: column %d is %q, want %q", i, header[i], name)
		}
	}

	var fps []Fingerprint
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fingerprint: line %d: %w", line, err)
		}
		f, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: line %d: %w", line, err)
		}
		fps = append(fps, f)
	}

	if err := Validate(fps); err != nil {
		return nil, err
	}
	Sort(fps)
	return fps, nil
}

// LoadFile loads a fingerprint database from a CSV file path.
func LoadFile(path string) ([]Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

func parseRecord(rec []string) (Fingerprint, error) {
	var f Fingerprint
	if len(rec) != len(csvHeader) {
		return f, fmt.Errorf("record has %d fields, want %d", len(rec), len(csvHeader))
	}

	id, err := strconv.Atoi(rec[0])
	if err != nil {
		return f, fmt.Errorf("id: %w", err)
	}
	width, err := strconv.ParseUint(rec[2], 10, 32)
	if err != nil {
		return f, fmt.Errorf("screen_width: %w", err)
	}
	height, err := strconv.ParseUint(rec[3], 10, 32)
	if err != nil {
		return f, fmt.Errorf("screen_height: %w", err)
	}
	depth, err := strconv.ParseUint(rec[4], 10, 8)
	if err != nil {
		return f, fmt.Errorf("color_depth: %w", err)
	}
	tz, err := strconv.ParseInt(rec[5], 10, 16)
	if err != nil {
		return f, fmt.Errorf("timezone_offset: %w", err)
	}
	weight, err := strconv.ParseFloat(rec[8], 64)
	if err != nil {
		return f, fmt.Errorf("weight: %w", err)
	}
	yearMin, err := strconv.ParseUint(rec[9], 10, 16)
	if err != nil {
		return f, fmt.Errorf("year_min: %w", err)
	}
	yearMax, err := strconv.ParseUint(rec[10], 10, 16)
	if err != nil {
		return f, fmt.Errorf("year_max: %w", err)
	}
	engine, err := prng.ParseAlgorithm(rec[11])
	if err != nil {
		return f, err
	}

	f = Fingerprint{
		ID:             id,
		UserAgent:      rec[1],
		ScreenWidth:    uint32(width),
		ScreenHeight:   uint32(height),
		ColorDepth:     uint8(depth),
		TimezoneOffset: int16(tz),
		Language:       rec[6],
		Platform:       rec[7],
		Weight:         weight,
		YearMin:        uint16(yearMin),
		YearMax:        uint16(yearMax),
		Engine:         engine,
	}
	return f, nil
}

// Defaults is a small built-in configuration set covering the most common
// 2011-2015 browser environments, for scans run without a curated database.
func Defaults() []Fingerprint {
	fps := []Fingerprint{
		{ID: 1, UserAgent: "Mozilla/5.0 (Windows NT 6.1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/32.0.1700.76 Safari/537.36", ScreenWidth: 1366, ScreenHeight: 768, ColorDepth: 24, TimezoneOffset: -300, Language: "en-US", Platform: "Win32", Weight: 0.18, YearMin: 2012, YearMax: 2015, Engine: prng.MWC1616},
		{ID: 2, UserAgent: "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/28.0.1500.72 Safari/537.36", ScreenWidth: 1920, ScreenHeight: 1080, ColorDepth: 24, TimezoneOffset: 0, Language: "en-GB", Platform: "Win32", Weight: 0.12, YearMin: 2012, YearMax: 2015, Engine: prng.MWC1616},
		{ID: 3, UserAgent: "Mozilla/5.0 (Windows NT 6.1; rv:20.0) Gecko/20100101 Firefox/20.0", ScreenWidth: 1366, ScreenHeight: 768, ColorDepth: 24, TimezoneOffset: -300, Language: "en-US", Platform: "Win32", Weight: 0.11, YearMin: 2011, YearMax: 2015, Engine: prng.LCG31},
		{ID: 4, UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_8_2) AppleWebKit/537.17 (KHTML, like Gecko) Chrome/24.0.1309.0 Safari/537.17", ScreenWidth: 1440, ScreenHeight: 900, ColorDepth: 24, TimezoneOffset: -480, Language: "en-US", Platform: "MacIntel", Weight: 0.08, YearMin: 2012, YearMax: 2015, Engine: prng.MWC1616},
		{ID: 5, UserAgent: "Mozilla/5.0 (Windows NT 5.1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/25.0.1364.172 Safari/537.36", ScreenWidth: 1024, ScreenHeight: 768, ColorDepth: 24, TimezoneOffset: -360, Language: "en-US", Platform: "Win32", Weight: 0.07, YearMin: 2011, YearMax: 2014, Engine: prng.MWC1616},
		{ID: 6, UserAgent: "Mozilla/5.0 (compatible; MSIE 9.0; Windows NT 6.1; Trident/5.0)", ScreenWidth: 1280, ScreenHeight: 1024, ColorDepth: 24, TimezoneOffset: -300, Language: "en-US", Platform: "Win32", Weight: 0.06, YearMin: 2011, YearMax: 2014, Engine: prng.LCG31},
		{ID: 7, UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_9_1) AppleWebKit/537.73.11 (KHTML, like Gecko) Version/7.0.1 Safari/537.73.11", ScreenWidth: 1280, ScreenHeight: 800, ColorDepth: 24, TimezoneOffset: 60, Language: "de-DE", Platform: "MacIntel", Weight: 0.04, YearMin: 2013, YearMax: 2015, Engine: prng.Xorshift128},
		{ID: 8, UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:24.0) Gecko/20100101 Firefox/24.0", ScreenWidth: 1920, ScreenHeight: 1200, ColorDepth: 24, TimezoneOffset: 0, Language: "en-US", Platform: "Linux x86_64", Weight: 0.03, YearMin: 2013, YearMax: 2015, Engine: prng.LCG31},
	}
	Sort(fps)
	return fps
}
