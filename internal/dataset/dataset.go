// Package dataset holds the parsed transcript handed to every metric run.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/go-playground/validator/v10"
)

// Student is the transcript header.
type Student struct {
	Name              string  `json:"name"`
	University        string  `json:"university"`
	Department        string  `json:"department"`
	AdmissionDate     string  `json:"admission_date,omitempty"`
	GraduationDate    string  `json:"graduation_date,omitempty"`
	TotalCredits      float64 `json:"total_credits" validate:"gte=0"`
	TotalGPAPoints    float64 `json:"total_gpa_points" validate:"gte=0"`
	OverallGPA        float64 `json:"overall_gpa" validate:"gte=0"`
	OverallPercentage float64 `json:"overall_percentage" validate:"gte=0"`
}

// Course is one transcript row.
type Course struct {
	Year     int     `json:"year" validate:"gte=1900,lte=2200"`
	Semester string  `json:"semester" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Category string  `json:"category"`
	Credit   float64 `json:"credit" validate:"gte=0"`
	Grade    string  `json:"grade"`
	Score    float64 `json:"score" validate:"gte=0"` // grade points, e.g. 4.5 scale
}

// Term returns the "{year}-{semester}" label used for grouping.
func (c Course) Term() string {
	return fmt.Sprintf("%d-%s", c.Year, c.Semester)
}

// Dataset is the parsed transcript.
type Dataset struct {
	Student Student  `json:"student"`
	Courses []Course `json:"courses" validate:"dive"`
}

// Columns lists the DataFrame columns in order.
var Columns = []string{"year", "semester", "term", "name", "category", "credit", "grade", "score"}

var validate = validator.New()

// Load reads and validates a transcript JSON file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates transcript JSON.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	if err := validate.Struct(&ds); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	return &ds, nil
}

// Restrict returns a copy holding only the named courses. Names compare
// case-insensitively after trimming. An empty list returns the dataset unchanged.
func (d *Dataset) Restrict(names []string) *Dataset {
	if d == nil || len(names) == 0 {
		return d
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[normalize(n)] = true
	}
	out := &Dataset{Student: d.Student}
	for _, c := range d.Courses {
		if want[normalize(c.Name)] {
			out.Courses = append(out.Courses, c)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Terms returns the distinct terms in chronological order.
func (d *Dataset) Terms() []string {
	seen := map[string]Course{}
	for _, c := range d.Courses {
		if _, ok := seen[c.Term()]; !ok {
			seen[c.Term()] = c
		}
	}
	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		a, b := seen[terms[i]], seen[terms[j]]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Semester < b.Semester
	})
	return terms
}

// Frame builds the course DataFrame exposed to snippets.
func (d *Dataset) Frame() dataframe.DataFrame {
	n := len(d.Courses)
	years := make([]int, n)
	semesters := make([]string, n)
	terms := make([]string, n)
	names := make([]string, n)
	categories := make([]string, n)
	credits := make([]float64, n)
	grades := make([]string, n)
	scores := make([]float64, n)
	for i, c := range d.Courses {
		years[i] = c.Year
		semesters[i] = c.Semester
		terms[i] = c.Term()
		names[i] = c.Name
		categories[i] = c.Category
		credits[i] = c.Credit
		grades[i] = c.Grade
		scores[i] = c.Score
	}
	return dataframe.New(
		series.New(years, series.Int, "year"),
		series.New(semesters, series.String, "semester"),
		series.New(terms, series.String, "term"),
		series.New(names, series.String, "name"),
		series.New(categories, series.String, "category"),
		series.New(credits, series.Float, "credit"),
		series.New(grades, series.String, "grade"),
		series.New(scores, series.Float, "score"),
	)
}

// Records returns the courses as column-keyed maps.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, 0, len(d.Courses))
	for _, c := range d.Courses {
		out = append(out, map[string]any{
			"year":     c.Year,
			"semester": c.Semester,
			"term":     c.Term(),
			"name":     c.Name,
			"category": c.Category,
			"credit":   c.Credit,
			"grade":    c.Grade,
			"score":    c.Score,
		})
	}
	return out
}

// StudentMap returns the header as a map for snippets.
func (d *Dataset) StudentMap() map[string]any {
	s := d.Student
	return map[string]any{
		"name":               s.Name,
		"university":         s.University,
		"department":         s.Department,
		"admission_date":     s.AdmissionDate,
		"graduation_date":    s.GraduationDate,
		"total_credits":      s.TotalCredits,
		"total_gpa_points":   s.TotalGPAPoints,
		"overall_gpa":        s.OverallGPA,
		"overall_percentage": s.OverallPercentage,
	}
}

// Summary renders a compact description of the dataset for prompts.
func (d *Dataset) Summary(previewRows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "student: %s / %s / %s, overall_gpa=%.2f, total_credits=%.1f\n",
		d.Student.Name, d.Student.University, d.Student.Department, d.Student.OverallGPA, d.Student.TotalCredits)
	fmt.Fprintf(&b, "courses: %d rows, terms: %s\n", len(d.Courses), strings.Join(d.Terms(), ", "))
	b.WriteString("columns: year(int), semester(string), term(string), name(string), category(string), credit(float), grade(string), score(float)\n")
	for i, c := range d.Courses {
		if i >= previewRows {
			fmt.Fprintf(&b, "... %d more rows\n", len(d.Courses)-previewRows)
			break
		}
		fmt.Fprintf(&b, "%s | %s | %s | %.1f | %s | %.2f\n", c.Term(), c.Name, c.Category, c.Credit, c.Grade, c.Score)
	}
	return b.String()
}
