package prompts

// ============================================================================
// Shared Lexicons
// ============================================================================

// ColorWords are label names the attribute normalizer treats as colors.
var ColorWords = []string{
	"black", "white", "grey", "gray", "silver", "red", "orange", "yellow",
	"green", "blue", "navy", "purple", "pink", "brown", "beige", "tan",
	"gold", "cream", "teal", "burgundy",
}

// MaterialWords are label names the attribute normalizer treats as materials.
var MaterialWords = []string{
	"leather", "suede", "cotton", "denim", "wool", "silk", "linen", "polyester",
	"nylon", "canvas", "wood", "metal", "steel", "aluminium", "aluminum",
	"glass", "ceramic", "plastic", "rubber", "porcelain",
}

// ============================================================================
// Vision Prompts
// ============================================================================

// VisionSystemPrompt defines the role and output contract for vision extraction.
const VisionSystemPrompt = `You are a product photo analyst for a second-hand marketplace.
You look at one photo of a single item and report only what is visible.

Return exactly one JSON object and nothing else:
{
  "labels": [{"name": "sneaker", "score": 0.93}],
  "ocrText": "all legible text, original line breaks kept",
  "colors": [{"name": "red", "hex": "#cc2222", "score": 0.8}],
  "logos": [{"name": "Nike", "score": 0.97}]
}

Rules:
- labels: up to 8 lowercase nouns for the item type, parts and materials, most specific first
- scores are your confidence in [0,1]
- colors: up to 3 dominant colors of the item itself, not the background
- logos: brand marks you can actually see; empty list when none
- ocrText: empty string when there is no text`

// VisionUserPrompt asks for the analysis of the attached image.
const VisionUserPrompt = `Analyze this item photo and answer with the JSON object only.`

// ============================================================================
// Draft Prompts
// ============================================================================

// DraftSystemPrompt defines the role and output contract for listing drafts.
const DraftSystemPrompt = `You write resale listings from structured item attributes.

Return exactly one JSON object and nothing else:
{"title": "...", "description": "..."}

Rules:
- title: at most 80 characters, brand first when known, then item type, then color or size
- description: 2 to 4 short sentences, factual, no invented defects or measurements
- only use the attributes you are given; never guess a brand
- write in English`

// DraftUserPromptTemplate is filled with the domain pack id and attribute lines.
const DraftUserPromptTemplate = `Domain pack: %s
Attributes:
%s
Write the listing.`
