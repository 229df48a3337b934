package vision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
)

const systemPrompt = `You are a precise visual classifier for image grid puzzles.
You look at a grid of numbered tiles and report which tiles show the requested object.
You answer only with tile numbers separated by commas, or the single word none.`

// BuildPrompt describes the grid layout, the tile semantics and the answer format.
func BuildPrompt(req Request) string {
	n := grid.Dimension(req.GridSize)
	size := n * n
	var b strings.Builder

	fmt.Fprintf(&b, "The image shows a %dx%d grid of %d tiles. ", n, n, size)
	fmt.Fprintf(&b, "Each tile has its number in a small label in its top-left corner. ")
	fmt.Fprintf(&b, "Numbers start at 0 in the top-left tile and increase left to right, then top to bottom")
	fmt.Fprintf(&b, " (row 1: %s; last row: %s).\n\n", rowLabels(0, n), rowLabels(n-1, n))

	noun := "tiles"
	switch req.Provider {
	case captcha.ProviderRecaptcha:
		noun = "squares"
	case captcha.ProviderCloudflare:
		noun = "images"
	}
	fmt.Fprintf(&b, "Task: find every %s containing %s.\n\n", noun, req.Target)

	if req.GridType == captcha.GridSlicedImage {
		b.WriteString("The tiles are slices of ONE larger photo. The object can span several adjacent tiles. ")
		b.WriteString("Include every tile that shows any part of it, even a small edge or corner.\n")
	} else {
		b.WriteString("Each tile is a separate, independent photo. ")
		b.WriteString("Include a tile when the object is clearly present in that photo.\n")
	}
	b.WriteString("The object may appear from any angle, at a distance, partly hidden, cropped or blurred. ")
	b.WriteString("When in doubt about a tile, include it.\n")

	if req.Candidates != nil {
		fmt.Fprintf(&b, "\nOnly these tiles have new images: %s. Consider only them.\n", joinInts(req.Candidates))
	}

	b.WriteString("\nAnswer with the matching tile numbers separated by commas, for example: 1,4,7\n")
	b.WriteString("If no tile matches, answer: none\n")
	b.WriteString("Do not add any other text.")
	return b.String()
}

func rowLabels(row, n int) string {
	labels := make([]int, n)
	for c := 0; c < n; c++ {
		labels[c] = row*n + c
	}
	return joinInts(labels)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
