package classifier

import (
	"bufio"
	"strings"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// directives are the scheduling annotations a test author can place in
// comments near the top of a unit:
//
//	// @requires test/setup/seed.test.ts
//	// @conflicts test/banking/transfer.test.ts
//	// @tag critical
//	// @isolation transaction
//	// @sequential
//
// Only the first maxDirectiveLines lines are scanned; annotations lower in
// the file are ignored.
type directives struct {
	Prerequisites []string
	Conflicts     []string
	Tags          []string
	Isolation     models.IsolationType
	Sequential    bool
}

const maxDirectiveLines = 50

func parseDirectives(source string) directives {
	var d directives

	scanner := bufio.NewScanner(strings.NewReader(source))
	line := 0
	for scanner.Scan() && line < maxDirectiveLines {
		line++
		text := strings.TrimSpace(scanner.Text())
		text = strings.TrimPrefix(text, "//")
		text = strings.TrimPrefix(text, "*")
		text = strings.TrimSpace(text)
		if !strings.HasPrefix(text, "@") {
			continue
		}

		fields := strings.Fields(text)
		switch fields[0] {
		case "@requires":
			if len(fields) > 1 {
				d.Prerequisites = append(d.Prerequisites, fields[1])
			}
		case "@conflicts":
			if len(fields) > 1 {
				d.Conflicts = append(d.Conflicts, fields[1])
			}
		case "@tag":
			if len(fields) > 1 {
				d.Tags = append(d.Tags, strings.ToLower(fields[1]))
			}
		case "@isolation":
			if len(fields) > 1 {
				if t, err := models.ParseIsolationType(strings.ToLower(fields[1])); err == nil {
					d.Isolation = t
				}
			}
		case "@sequential":
			d.Sequential = true
		}
	}

	return d
}
