package domain

import "time"

// Label is a scene or object label reported by the vision provider.
type Label struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Logo is a brand mark detected in the image.
type Logo struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Color is a dominant color reported by the vision provider.
type Color struct {
	Name  string  `json:"name"`
	Hex   string  `json:"hex,omitempty"`
	Score float64 `json:"score"`
}

// VisionResult is the raw output of vision extraction.
type VisionResult struct {
	Labels  []Label `json:"labels"`
	OCRText string  `json:"ocrText"`
	Colors  []Color `json:"colors"`
	Logos   []Logo  `json:"logos"`
}

// IsEmpty reports whether the provider returned no usable signal.
func (v *VisionResult) IsEmpty() bool {
	return v == nil || (len(v.Labels) == 0 && v.OCRText == "" && len(v.Colors) == 0 && len(v.Logos) == 0)
}

// Clone returns a deep copy of v.
func (v *VisionResult) Clone() *VisionResult {
	if v == nil {
		return nil
	}
	c := &VisionResult{OCRText: v.OCRText}
	c.Labels = append([]Label(nil), v.Labels...)
	c.Colors = append([]Color(nil), v.Colors...)
	c.Logos = append([]Logo(nil), v.Logos...)
	return c
}

// VisionCacheEntry is a cached vision result and the time it was stored.
type VisionCacheEntry struct {
	Result   *VisionResult
	CachedAt time.Time
}
