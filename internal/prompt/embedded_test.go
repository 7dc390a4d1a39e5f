package prompt

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tableData struct {
	Task           string
	Dataset        string
	PreviousCode   string
	PreviousError  string
	AllowedImports []string
}

func TestLoadEmbedded(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)
	assert.Equal(t, []string{"generate_chart", "generate_table", "insight", "router"}, c.IDs())

	_, err = c.Get("nope")
	assert.ErrorContains(t, err, "unknown prompt")
}

func TestRender_GenerateTable(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)
	tpl, err := c.Get("generate_table")
	require.NoError(t, err)

	sys, user, err := tpl.Render(tableData{
		Task:           "Metric gpa_trend: GPA per term",
		Dataset:        "courses: 12 rows",
		AllowedImports: []string{"fmt", "insight/host"},
	})
	require.NoError(t, err)
	assert.Contains(t, sys, "package main")
	assert.Contains(t, sys, "fmt, insight/host")
	assert.Contains(t, sys, `"df_code"`)
	assert.Contains(t, user, "GPA per term")
	assert.NotContains(t, user, "previous attempt failed")

	_, user, err = tpl.Render(tableData{
		Task:          "t",
		PreviousCode:  "package main",
		PreviousError: `column "gpaa" not found`,
	})
	require.NoError(t, err)
	assert.Contains(t, user, "previous attempt failed")
	assert.Contains(t, user, `column "gpaa" not found`)
	assert.Contains(t, user, "```go\npackage main\n```")
}

func TestRender_MissingField(t *testing.T) {
	c, err := LoadEmbedded()
	require.NoError(t, err)
	tpl, err := c.Get("router")
	require.NoError(t, err)

	_, _, err = tpl.Render(struct{ Task string }{Task: "x"})
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	dup := fstest.MapFS{
		"t/a.yaml": {Data: []byte("id: same\nuser: hi\n")},
		"t/b.yaml": {Data: []byte("id: same\nuser: hi\n")},
	}
	_, err := load(dup, "t")
	assert.ErrorContains(t, err, "duplicate prompt id")

	noUser := fstest.MapFS{"t/a.yaml": {Data: []byte("system: hi\n")}}
	_, err = load(noUser, "t")
	assert.ErrorContains(t, err, "no user template")

	badTpl := fstest.MapFS{"t/a.yaml": {Data: []byte("user: '{{.Broken'\n")}}
	_, err = load(badTpl, "t")
	assert.ErrorContains(t, err, "failed to parse")
}

func TestLoad_DefaultsIDAndPartials(t *testing.T) {
	fsys := fstest.MapFS{
		"t/partials/p.tmpl": {Data: []byte(`{{define "greet"}}hello {{.Name}}{{end}}`)},
		"t/hello.yaml":      {Data: []byte("system: '{{template \"greet\" .}}'\nuser: '{{.Name | trim}}!'\n")},
	}
	c, err := load(fsys, "t")
	require.NoError(t, err)
	tpl, err := c.Get("hello")
	require.NoError(t, err)

	sys, user, err := tpl.Render(map[string]string{"Name": " ada "})
	require.NoError(t, err)
	assert.Equal(t, "hello  ada", sys)
	assert.Equal(t, "ada!", user)
}
