package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommandSimple(t *testing.T) {
	program, args, err := splitCommand("notify-send hello")
	require.NoError(t, err)
	assert.Equal(t, "notify-send", program)
	assert.Equal(t, []string{"hello"}, args)
}

func TestSplitCommandHonorsQuotedSpaces(t *testing.T) {
	program, args, err := splitCommand(`notify-send "hello world" 'second arg'`)
	require.NoError(t, err)
	assert.Equal(t, "notify-send", program)
	assert.Equal(t, []string{"hello world", "second arg"}, args)
}

func TestSplitCommandEmptyIsRejected(t *testing.T) {
	_, _, err := splitCommand("   ")
	require.Error(t, err)
}

func TestSplitCommandUnterminatedQuoteIsRejected(t *testing.T) {
	_, _, err := splitCommand(`notify-send "unterminated`)
	require.Error(t, err)
}

func TestAllowedCommandsMatchesSpecList(t *testing.T) {
	expected := []string{
		"xdotool", "xrandr", "amixer", "notify-send",
		"pactl", "playerctl", "brightnessctl", "xbacklight",
	}
	assert.Len(t, allowedCommands, len(expected))
	for _, name := range expected {
		_, ok := allowedCommands[name]
		assert.True(t, ok, "expected %s to be allowlisted", name)
	}
}
