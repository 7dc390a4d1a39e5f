package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
)

// FallbackFont is the bundled Liberation face gonum/plot always has.
var FallbackFont = font.Font{Typeface: "Liberation", Variant: "Sans"}

// FontChoice reports which font SelectFont applied.
type FontChoice struct {
	Family string
	Path   string
}

// registered maps font file paths to their family. Guarded by renderMu.
var registered = map[string]string{}

// loadFontFile parses a TTF/OTF/TTC file and adds it to the default cache.
func loadFontFile(path string) (string, error) {
	if fam, ok := registered[path]; ok {
		return fam, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var face *opentype.Font
	if strings.EqualFold(filepath.Ext(path), ".ttc") {
		coll, err := opentype.ParseCollection(data)
		if err != nil {
			return "", fmt.Errorf("parse font collection %s: %w", path, err)
		}
		face, err = coll.Font(0)
		if err != nil {
			return "", fmt.Errorf("read font collection %s: %w", path, err)
		}
	} else {
		face, err = opentype.Parse(data)
		if err != nil {
			return "", fmt.Errorf("parse font %s: %w", path, err)
		}
	}

	family, err := face.Name(&sfnt.Buffer{}, sfnt.NameIDFamily)
	if err != nil || family == "" {
		family = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	font.DefaultCache.Add(font.Collection{
		{Font: font.Font{Typeface: font.Typeface(family)}, Face: face},
	})
	registered[path] = family
	return family, nil
}

// selectFont applies the first loadable candidate, else the fallback.
func selectFont(candidates []string) FontChoice {
	for _, p := range candidates {
		fam, err := loadFontFile(p)
		if err != nil {
			continue
		}
		plot.DefaultFont = font.Font{Typeface: font.Typeface(fam)}
		return FontChoice{Family: fam, Path: p}
	}
	plot.DefaultFont = FallbackFont
	return FontChoice{Family: string(FallbackFont.Typeface)}
}

// lookupFamily finds a cached font for a family name.
func lookupFamily(family string) (font.Font, bool) {
	for _, f := range []font.Font{
		{Typeface: font.Typeface(family)},
		{Typeface: font.Typeface(family), Variant: "Sans"},
		{Typeface: font.Typeface(family), Variant: "Serif"},
	} {
		if font.DefaultCache.Has(f) {
			return f, true
		}
	}
	return font.Font{}, false
}

func fontLabel(f font.Font) string {
	if f.Variant == "" {
		return string(f.Typeface)
	}
	return string(f.Typeface) + " " + string(f.Variant)
}

// missingGlyphs reports runes of texts that the active font cannot draw.
func missingGlyphs(f font.Font, texts []string) []string {
	face := font.DefaultCache.Lookup(f, 12)
	if face.Face == nil {
		return nil
	}
	var (
		buf      sfnt.Buffer
		seen     = map[rune]bool{}
		warnings []string
	)
	for _, s := range texts {
		for _, r := range s {
			if unicode.IsSpace(r) || unicode.IsControl(r) || seen[r] {
				continue
			}
			seen[r] = true
			idx, err := face.Face.GlyphIndex(&buf, r)
			if err != nil || idx == 0 {
				warnings = append(warnings, fmt.Sprintf("Glyph %U (%c) missing from font(s) %s.", r, r, fontLabel(f)))
			}
		}
	}
	return warnings
}
