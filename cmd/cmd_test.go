package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/recommend"
)

const seedFile = `
curricula:
  - courseId: math
    version: 1.0.0
    entries:
      - {order: 1, lessonRef: add, title: Addition, outcomeRefs: [o.add], estimatedMinutes: 20}
      - {order: 2, lessonRef: sub, title: Subtraction, outcomeRefs: [o.sub], estimatedMinutes: 20}
      - {order: 3, lessonRef: mul, title: Multiplication, outcomeRefs: [o.mul], estimatedMinutes: 50}
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(t.Context()), out.String())
	return out.String()
}

func TestParseScores(t *testing.T) {
	got, err := parseScores([]string{"o1=0.5", "o2=1.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"o1": 0.5, "o2": 1.5}, got)

	_, err = parseScores([]string{"o1"})
	assert.Error(t, err)
	_, err = parseScores([]string{"o1=high"})
	assert.Error(t, err)
	_, err = parseScores([]string{"=0.5"})
	assert.Error(t, err)
}

func TestCLIWorkflow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("PATHWISE_DB", "")
	t.Setenv("PATHWISE_REDIS_URL", "")
	t.Setenv("PATHWISE_LOG_LEVEL", "error")
	db := filepath.Join(dir, "data", "pathwise.db")

	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedFile), 0o644))

	out := run(t, "seed", seedPath, "--db", db)
	assert.Contains(t, out, "published math@v1.0.0")
	assert.Contains(t, out, "3 lesson templates stored")

	out = run(t, "enroll", "s1", "math", "--db", db)
	assert.Contains(t, out, "enrolled s1 in math (math@v1.0.0 v1.0.0)")

	run(t, "mastery", "set", "s1", "math", "o.add=0.9", "o.sub=0.2", "o.mul=0.9", "--db", db)

	out = run(t, "recommend", "s1", "math", "--json", "--db", db)
	var rec recommend.CourseRecommendation
	require.NoError(t, json.Unmarshal([]byte(out), &rec), out)
	require.Len(t, rec.Candidates, 3)
	assert.Equal(t, "sub", rec.Candidates[0].LessonRef)
	assert.Equal(t, "Overdue>LowEMA>Order | -Recent -TooLong", rec.Rubric)

	out = run(t, "version")
	assert.Contains(t, out, "pathwise")
}
