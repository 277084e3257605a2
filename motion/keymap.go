package motion

import "math"

// Rough US-QWERTY geometry in abstract key units: each row is the
// unshifted character sequence plus the row's horizontal stagger.
var qwertyRows = []struct {
	keys string
	xoff float64
}{
	{"`1234567890-=", 0.0},
	{"qwertyuiop[]\\", 0.5},
	{"asdfghjkl;'", 1.0},
	{"zxcvbnm,./", 1.5},
}

// keyNames maps punctuation characters to key identifiers understood by
// the OS-input sink.
var keyNames = map[rune]string{
	'`':  "grave",
	'-':  "minus",
	'=':  "equals",
	'[':  "leftbracket",
	']':  "rightbracket",
	'\\': "backslash",
	';':  "semicolon",
	'\'': "quote",
	',':  "comma",
	'.':  "period",
	'/':  "slash",
}

// shifted maps shifted symbols to their base (unshifted) character.
var shifted = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	'_': '-', '+': '=', '{': '[', '}': ']', '|': '\\',
	':': ';', '"': '\'', '<': ',', '>': '.', '?': '/', '~': '`',
}

type keyPoint struct{ x, y float64 }

func buildKeyXY() map[string]keyPoint {
	out := map[string]keyPoint{"space": {5.0, 4.0}}
	for rowIdx, row := range qwertyRows {
		for col, ch := range row.keys {
			name := string(ch)
			if n, ok := keyNames[ch]; ok {
				name = n
			}
			out[name] = keyPoint{float64(col) + row.xoff, float64(rowIdx)}
		}
	}
	return out
}

// keyDistance returns the Euclidean distance between two keys in key
// units, or 0 when either key is unknown.
func keyDistance(keyXY map[string]keyPoint, a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	pa, ok := keyXY[a]
	if !ok {
		return 0
	}
	pb, ok := keyXY[b]
	if !ok {
		return 0
	}
	return math.Hypot(pa.x-pb.x, pa.y-pb.y)
}
