package captcha

import "strings"

type GridType int

const (
	GridSlicedImage GridType = iota
	GridSeparateImages
)

func (g GridType) String() string {
	if g == GridSeparateImages {
		return "separate_images"
	}
	return "sliced_image"
}

// ModeState describes how a challenge instance behaves. It is recomputed for
// every attempt and every dynamic round.
type ModeState struct {
	GridSize   int
	FourByFour bool
	Dynamic    bool
	GridType   GridType
}

func (m ModeState) String() string {
	var b strings.Builder
	if m.FourByFour {
		b.WriteString("4x4 ")
	} else {
		b.WriteString("3x3 ")
	}
	if m.Dynamic {
		b.WriteString("dynamic ")
	} else {
		b.WriteString("static ")
	}
	b.WriteString(m.GridType.String())
	return b.String()
}

// ModeInput is the DOM-derived evidence DetectMode works from.
type ModeInput struct {
	InstructionText string
	GridClass       string
	TileCount       int
	DeclaredSize    int
}

var (
	dynamicPhrases  = []string{"once there are none left", "until there are none left"}
	separatePhrases = []string{"select all images", "click each image", "click on all images", "click on each image"}
	slicedPhrases   = []string{"select all squares"}
)

// DetectMode is a pure function of its input.
func DetectMode(in ModeInput) ModeState {
	size := GridSizeFromClass(in.GridClass)
	if size == 0 {
		switch {
		case in.TileCount >= 16:
			size = 16
		case in.TileCount >= 9:
			size = 9
		case in.DeclaredSize == 16:
			size = 16
		default:
			size = 9
		}
	}

	if size == 16 {
		return ModeState{GridSize: 16, FourByFour: true, GridType: GridSlicedImage}
	}

	text := strings.ToLower(strings.Join(strings.Fields(in.InstructionText), " "))
	if containsAny(text, dynamicPhrases) {
		return ModeState{GridSize: 9, Dynamic: true, GridType: GridSeparateImages}
	}
	state := ModeState{GridSize: 9, GridType: GridSlicedImage}
	if containsAny(text, separatePhrases) {
		state.GridType = GridSeparateImages
	} else if containsAny(text, slicedPhrases) {
		state.GridType = GridSlicedImage
	}
	return state
}

// GridSizeFromClass reads a grid size hint out of a class attribute, or 0.
func GridSizeFromClass(class string) int {
	c := strings.ToLower(class)
	switch {
	case c == "":
		return 0
	case strings.Contains(c, "4x4"), strings.Contains(c, "grid-4"), strings.Contains(c, "44"):
		return 16
	case strings.Contains(c, "3x3"), strings.Contains(c, "grid-3"), strings.Contains(c, "33"):
		return 9
	}
	return 0
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
