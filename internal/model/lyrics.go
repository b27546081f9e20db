package model

// AlignedWord is a single word with its position in the vocal track, in seconds
type AlignedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AlignedLine is one lyrics line with its display window, in seconds
type AlignedLine struct {
	Line  string  `json:"line"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
