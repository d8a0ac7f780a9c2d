package website

import (
	"fmt"
	"strconv"

	"github.com/abdulachik/multipost/internal/submission"
)

// SupportsFileType reports whether the file extension is in accepted.
func SupportsFileType(f *submission.File, accepted []string) bool {
	if f == nil {
		return false
	}
	if len(accepted) == 0 {
		return true
	}
	ext := f.Extension()
	for _, a := range accepted {
		if a == ext {
			return true
		}
	}
	return false
}

// validateFiles runs the checks shared by media sites: a primary file must be
// present, of an accepted type, and the additional file count must fit.
func validateFiles(sub *submission.Submission, site string, accepted []string, maxAdditional int) []Problem {
	if sub.Type == submission.TypeJournal {
		return nil
	}

	var problems []Problem
	if sub.Primary == nil {
		return append(problems, Problem{Site: site, Message: "Missing file"})
	}

	for _, f := range sub.Files() {
		if !SupportsFileType(&f, accepted) {
			problems = append(problems, Problem{Site: site, Message: "Does not support file format", Value: f.Type})
		}
	}

	if n := len(sub.Additional); n > maxAdditional {
		problems = append(problems, Problem{
			Site:    site,
			Message: "Too many additional files",
			Value:   strconv.Itoa(maxAdditional),
		})
	}

	return problems
}

// sizeProblem returns a problem when f exceeds limitMB.
func sizeProblem(site string, f *submission.File, limitMB int) *Problem {
	if f == nil || f.Size <= submission.MBToBytes(limitMB) {
		return nil
	}
	return &Problem{Site: site, Message: "Max file size", Value: fmt.Sprintf("%dMB", limitMB)}
}
