package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Load(filepath.Join("testdata", "transcript.json"))
	require.NoError(t, err)
	return ds
}

func TestLoad(t *testing.T) {
	ds := loadFixture(t)
	assert.Equal(t, "홍길동", ds.Student.Name)
	assert.Len(t, ds.Courses, 12)
	assert.Equal(t, "2021-1", ds.Courses[0].Term())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"courses":[{"year":2021,"semester":"1","name":"","credit":3}]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestTerms(t *testing.T) {
	ds := loadFixture(t)
	assert.Equal(t, []string{"2021-1", "2021-2", "2022-1", "2022-2", "2023-1", "2023-2"}, ds.Terms())
}

func TestRestrict(t *testing.T) {
	ds := loadFixture(t)

	sub := ds.Restrict([]string{" 자료구조 ", "알고리즘", "없는과목"})
	require.Len(t, sub.Courses, 2)
	assert.Equal(t, "자료구조", sub.Courses[0].Name)
	assert.Equal(t, ds.Student, sub.Student)

	assert.Same(t, ds, ds.Restrict(nil))
}

func TestFrame(t *testing.T) {
	ds := loadFixture(t)
	df := ds.Frame()
	require.NoError(t, df.Err)
	assert.Equal(t, 12, df.Nrow())
	assert.Equal(t, Columns, df.Names())
	assert.Equal(t, 4.5, df.Col("score").Float()[2])
}

func TestRecordsAndSummary(t *testing.T) {
	ds := loadFixture(t)
	recs := ds.Records()
	require.Len(t, recs, 12)
	assert.Equal(t, "2023-2", recs[11]["term"])

	s := ds.Summary(3)
	assert.Contains(t, s, "courses: 12 rows")
	assert.Contains(t, s, "... 9 more rows")
	assert.Equal(t, 4.04, ds.StudentMap()["overall_gpa"])
}
