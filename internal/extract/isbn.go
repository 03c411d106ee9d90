package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

var (
	isbnLabelledRe = regexp.MustCompile(`(?i)\bISBN(?:-1[03])?\s*:?\s*([0-9][0-9\- ]{8,15}[0-9Xx])`)
	isbnBareRe     = regexp.MustCompile(`\b97[89](?:[\- ]?[0-9]){10}\b`)
)

// ISBN finds checksum-valid ISBN-10 and ISBN-13 numbers in page text.
type ISBN struct{}

// Kind implements Extractor.
func (ISBN) Kind() Kind { return KindISBN }

// Extract implements Extractor.
func (ISBN) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	isbn10, isbn13 := newOrdered(), newOrdered()
	for _, d := range docs {
		text := bodyText(d.Doc)
		var candidates []string
		for _, m := range isbnLabelledRe.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, m[1])
		}
		candidates = append(candidates, isbnBareRe.FindAllString(text, -1)...)
		for _, c := range candidates {
			digits := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(c))
			switch {
			case len(digits) == 10 && validISBN10(digits):
				isbn10.add(digits)
			case len(digits) == 13 && validISBN13(digits):
				isbn13.add(digits)
			}
		}
	}
	return scrape.ISBNSection{ISBN10: isbn10.items, ISBN13: isbn13.items}, nil
}

func validISBN10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var v int
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		v := int(c - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
