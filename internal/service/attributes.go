package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/scanium/enricher/internal/domain"
	"github.com/scanium/enricher/internal/prompts"
)

// Attribute names produced by the normalizer.
const (
	AttrCategory = "category"
	AttrBrand    = "brand"
	AttrColor    = "color"
	AttrMaterial = "material"
	AttrSize     = "size"
)

const (
	ocrBrandConfidence  = 0.6
	ocrSizeConfidence   = 0.7
	labelColorDiscount  = 0.8
	userHintConfidence  = 1.0
	maxOCRBrandLineRune = 24
)

var sizePattern = regexp.MustCompile(`(?i)\b(?:size|sz|taille|gr(?:ö|oe)sse)\s*[:.]?\s*([0-9]{1,3}(?:[.,/][0-9]{1,2})?|XXS|XS|S|M|L|XL|XXL|XXXL)\b`)

// Normalizer turns raw vision signals into confidence-scored attributes.
// It is pure and safe for concurrent use.
type Normalizer struct {
	minConfidence float64
	colors        map[string]struct{}
	materials     map[string]struct{}
}

// NewNormalizer creates a normalizer that drops attributes below minConfidence.
func NewNormalizer(minConfidence float64) *Normalizer {
	return &Normalizer{
		minConfidence: minConfidence,
		colors:        toSet(prompts.ColorWords),
		materials:     toSet(prompts.MaterialWords),
	}
}

// Normalize maps vision output to attributes. When several signals propose a
// value for the same attribute the most confident one wins. User hints always
// win. Category mapping per domain pack happens downstream of this service,
// so domainPackID only scopes the error message.
func (n *Normalizer) Normalize(vision *domain.VisionResult, domainPackID string, hints map[string]string) (map[string]domain.Attribute, error) {
	if vision == nil {
		return nil, fmt.Errorf("%w: no vision result for pack %q", domain.ErrAttributeNormalization, domainPackID)
	}

	attrs := make(map[string]domain.Attribute)
	propose := func(name, value string, confidence float64, source domain.AttributeSource) error {
		if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
			return fmt.Errorf("%w: %s confidence from %s is %v", domain.ErrAttributeNormalization, name, source, confidence)
		}
		value = strings.TrimSpace(value)
		confidence = clamp01(confidence)
		if value == "" || confidence < n.minConfidence {
			return nil
		}
		if current, ok := attrs[name]; ok && current.Confidence >= confidence {
			return nil
		}
		attrs[name] = domain.Attribute{Value: value, Confidence: confidence, Source: source}
		return nil
	}

	categorySet := false
	for _, l := range vision.Labels {
		name := strings.ToLower(l.Name)
		var err error
		switch {
		case n.isColor(name):
			err = propose(AttrColor, name, l.Score*labelColorDiscount, domain.SourceLabel)
		case n.isMaterial(name):
			err = propose(AttrMaterial, name, l.Score, domain.SourceLabel)
		case !categorySet:
			// Labels arrive most specific first; only the first object label is a category.
			err = propose(AttrCategory, name, l.Score, domain.SourceLabel)
			categorySet = true
		}
		if err != nil {
			return nil, err
		}
	}

	for _, c := range vision.Colors {
		if err := propose(AttrColor, strings.ToLower(c.Name), c.Score, domain.SourceColor); err != nil {
			return nil, err
		}
	}

	for _, l := range vision.Logos {
		if err := propose(AttrBrand, l.Name, l.Score, domain.SourceLogo); err != nil {
			return nil, err
		}
	}

	if brand := brandFromOCR(vision.OCRText); brand != "" {
		if err := propose(AttrBrand, brand, ocrBrandConfidence, domain.SourceOCR); err != nil {
			return nil, err
		}
	}
	if m := sizePattern.FindStringSubmatch(vision.OCRText); m != nil {
		if err := propose(AttrSize, strings.ToUpper(m[1]), ocrSizeConfidence, domain.SourceOCR); err != nil {
			return nil, err
		}
	}

	for name, value := range hints {
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		attrs[name] = domain.Attribute{Value: value, Confidence: userHintConfidence, Source: domain.SourceUser}
	}

	return attrs, nil
}

func (n *Normalizer) isColor(name string) bool {
	_, ok := n.colors[name]
	return ok
}

func (n *Normalizer) isMaterial(name string) bool {
	_, ok := n.materials[name]
	return ok
}

// brandFromOCR returns the first short all-caps word line that is not a size marking.
func brandFromOCR(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len([]rune(line)) > maxOCRBrandLineRune || sizePattern.MatchString(line) {
			continue
		}
		letters := 0
		upper := true
		for _, r := range line {
			if unicode.IsLetter(r) {
				letters++
				if !unicode.IsUpper(r) {
					upper = false
					break
				}
			} else if !unicode.IsSpace(r) && r != '&' && r != '-' && r != '\'' {
				upper = false
				break
			}
		}
		if upper && letters >= 2 {
			return titleCase(line)
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
