package captcha

import "sort"

type TileRecord struct {
	Clicks   int
	Replaced bool
}

// TileSelection tracks the tiles judged to match within one attempt.
type TileSelection struct {
	matched map[int]bool
	records map[int]*TileRecord
}

func NewTileSelection() *TileSelection {
	s := &TileSelection{}
	s.Reset()
	return s
}

func (s *TileSelection) Reset() {
	s.matched = make(map[int]bool)
	s.records = make(map[int]*TileRecord)
}

func (s *TileSelection) record(i int) *TileRecord {
	r, ok := s.records[i]
	if !ok {
		r = &TileRecord{}
		s.records[i] = r
	}
	return r
}

// RecordClick notes a click on tile i and marks it matched.
func (s *TileSelection) RecordClick(i int) {
	s.record(i).Clicks++
	s.matched[i] = true
}

// MarkReplaced notes that tile i received a new image after being clicked.
func (s *TileSelection) MarkReplaced(i int) {
	s.record(i).Replaced = true
}

func (s *TileSelection) IsSelected(i int) bool { return s.matched[i] }

func (s *TileSelection) Record(i int) TileRecord {
	if r, ok := s.records[i]; ok {
		return *r
	}
	return TileRecord{}
}

// Selected returns matched tile indices in ascending order.
func (s *TileSelection) Selected() []int {
	out := make([]int, 0, len(s.matched))
	for i := range s.matched {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Unselected filters candidates down to tiles not yet clicked.
func (s *TileSelection) Unselected(candidates []int) []int {
	var out []int
	for _, i := range candidates {
		if !s.matched[i] {
			out = append(out, i)
		}
	}
	return out
}

func (s *TileSelection) TotalClicks() int {
	n := 0
	for _, r := range s.records {
		n += r.Clicks
	}
	return n
}
