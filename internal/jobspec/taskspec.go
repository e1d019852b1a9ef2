package jobspec

import (
	"regexp"
	"strconv"
)

var fewshotSuffix = regexp.MustCompile(`\|\d+$`)

// NormalizeTaskSpec returns id unchanged when it already ends in "|<digits>",
// otherwise "id|fewshot".
func NormalizeTaskSpec(id string, fewshot int) string {
	if fewshotSuffix.MatchString(id) {
		return id
	}
	return id + "|" + strconv.Itoa(fewshot)
}
