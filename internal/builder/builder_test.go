package builder

import (
	"testing"

	"github.com/run-z/runz/core/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroupAction(t *testing.T) {
	b := New()
	require.NoError(t, b.Parse("run-z dep1 dep2/-a"))
	s := b.Spec()
	assert.Equal(t, spec.ActionGroup, s.Action.Kind)
	require.Len(t, s.Pre, 2)
}

func TestParseNativeScriptAction(t *testing.T) {
	b := New()
	require.NoError(t, b.Parse("echo hi"))
	s := b.Spec()
	assert.Equal(t, spec.ActionScript, s.Action.Kind)
	assert.Equal(t, "echo hi", s.Action.Command)
}

func TestSpecClassifiesLeftoverArgsAsCommand(t *testing.T) {
	b := New()
	require.NoError(t, b.Parse("run-z dep1 --then echo done"))
	s := b.Spec()
	assert.Equal(t, spec.ActionCommand, s.Action.Kind)
	assert.Equal(t, "echo done", s.Action.Command)
}

func TestApplyArgvScriptPrefixMatch(t *testing.T) {
	b := New()
	err := b.ApplyArgv("run-z build", "test", []string{"run-z", "build", "--verbose"}, 1)
	require.NoError(t, err)
	s := b.Spec()
	require.Len(t, s.Pre, 1)
	assert.Equal(t, "build", s.Pre[0].Task.Task)
	assert.True(t, s.Attrs.Bool("verbose"))
}

func TestApplyArgvNoPrefixMatchAppliesWhole(t *testing.T) {
	b := New()
	err := b.ApplyArgv("run-z build", "test", []string{"run-z", "lint"}, 1)
	require.NoError(t, err)
	s := b.Spec()
	assert.Empty(t, s.Pre)
	assert.Equal(t, []string{"lint"}, s.Args)
}
