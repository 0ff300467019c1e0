package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestComboContains(t *testing.T) {
	c := NewCombo([]uint16{30, 48}, []uint16{42})
	assert.True(t, c.Contains(30))
	assert.True(t, c.Contains(48))
	assert.False(t, c.Contains(31))
}

func TestComboYAMLRoundTrip(t *testing.T) {
	c := NewCombo([]uint16{16, 17, 18}, []uint16{29})

	data, err := yaml.Marshal(c)
	require.NoError(t, err)

	var out Combo
	require.NoError(t, yaml.Unmarshal(data, &out))

	assert.ElementsMatch(t, c.KeyList, out.KeyList)
	assert.ElementsMatch(t, c.ModifierList, out.ModifierList)
	assert.True(t, out.Contains(16))
	assert.True(t, out.Contains(17))
	assert.False(t, out.Contains(29)) // modifier is not itself a trigger key
}

func TestEntryUnrestricted(t *testing.T) {
	e := Entry{Name: "m1"}
	assert.True(t, e.Unrestricted())

	e.DeviceID = "/dev/input/event3"
	assert.False(t, e.Unrestricted())
}

func TestEntryCloneIsIndependent(t *testing.T) {
	original := Entry{
		Name:    "m1",
		Trigger: NewCombo([]uint16{30}, nil),
		Actions: []Action{{Kind: KeyPress, Code: 30}},
	}
	clone := original.Clone()

	clone.Actions[0].Code = 99
	clone.Trigger.KeyList[0] = 1

	assert.Equal(t, uint16(30), original.Actions[0].Code)
	assert.Equal(t, uint16(30), original.Trigger.KeyList[0])
}

func TestActionKindString(t *testing.T) {
	assert.Equal(t, "KeyPress", KeyPress.String())
	assert.Equal(t, "Execute", Execute.String())
	assert.Equal(t, "Unknown", ActionKind(99).String())
}
