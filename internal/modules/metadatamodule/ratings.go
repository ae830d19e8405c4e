package metadatamodule

import (
	"strconv"
	"strings"
)

// movieRatingAges maps film certification labels to the minimum viewer age
// they imply. Keys are uppercase; lookups normalize first.
var movieRatingAges = map[string]int{
	// MPAA
	"G": 0, "PG": 10, "PG-13": 13, "R": 17, "NC-17": 18,
	// BBFC
	"U": 0, "12": 12, "12A": 12, "15": 15, "18": 18, "R18": 18,
	// FSK
	"FSK 0": 0, "FSK 6": 6, "FSK 12": 12, "FSK 16": 16, "FSK 18": 18,
	"FSK-0": 0, "FSK-6": 6, "FSK-12": 12, "FSK-16": 16, "FSK-18": 18,
	// Misc
	"NR": 0, "UNRATED": 0, "NOT RATED": 0, "APPROVED": 0,
}

// tvRatingAges covers the US TV parental guidelines.
var tvRatingAges = map[string]int{
	"TV-Y": 0, "TV-Y7": 7, "TV-Y7-FV": 7, "TV-G": 0,
	"TV-PG": 10, "TV-14": 14, "TV-MA": 17,
}

// ResolveContentRatingAge maps a certification label to a minimum viewer
// age. The television flag tries the TV guideline table first since labels
// like "14" are ambiguous between boards. Country prefixes ("US:R",
// "de/FSK 16") are stripped. Returns false for labels no table knows.
func ResolveContentRatingAge(rating string, television bool) (int, bool) {
	norm := strings.ToUpper(strings.TrimSpace(rating))
	if norm == "" {
		return 0, false
	}
	if i := strings.IndexAny(norm, ":/"); i > 0 && i <= 3 {
		norm = strings.TrimSpace(norm[i+1:])
	}

	if television {
		if age, ok := tvRatingAges[norm]; ok {
			return age, true
		}
	}
	if age, ok := movieRatingAges[norm]; ok {
		return age, true
	}
	if !television {
		if age, ok := tvRatingAges[norm]; ok {
			return age, true
		}
	}

	// Plain-number labels (FSK style "16", Dutch "12") mean the age itself.
	if n, err := strconv.Atoi(norm); err == nil && n >= 0 && n <= 21 {
		return n, true
	}
	return 0, false
}
