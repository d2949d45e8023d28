package forecast

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/forecast-cli/internal/model"
)

const maxSlugLen = 40

// Slug turns a question into a lowercase file-name fragment: accents are
// stripped, runs of other characters collapse to one underscore.
func Slug(question string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, question)
	if err != nil {
		folded = question
	}

	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			if b.Len() >= maxSlugLen {
				break
			}
			continue
		}
		sep = true
	}
	if b.Len() == 0 {
		return "forecast"
	}
	return strings.TrimRight(b.String(), "_")
}

// SaveReport writes the rendered report to dir and returns the file path.
// The name combines the completion time and the question slug.
func SaveReport(dir string, res *model.ForecastResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "forecast: create %s", dir)
	}
	question := res.ClarifiedQuestion
	if question == "" {
		question = res.Question
	}
	name := res.CompletedAt.UTC().Format("20060102-150405") + "_" + Slug(question) + ".txt"
	path := filepath.Join(dir, name)

	report := res.Report
	if report == "" {
		report = Render(res)
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", eris.Wrapf(err, "forecast: write %s", path)
	}
	return path, nil
}
