package unity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const menuBody = `

(1)	"can connect" [wifi][timeout=30]
(2)	"reboot twice" [system][multi_stage]
	(1)	"first_stage"
	(2)	"second_stage"
(3)	"ping pong" [wifi][multi_device][ignore]
	(1)	"master"
	(2)	"slave"
(4)	"flaky one" [ble][disable][test_env = UT_T2]
`

func TestParseMenu(t *testing.T) {
	menu, err := ParseMenu(menuBody)
	require.NoError(t, err)
	require.Len(t, menu, 4)

	assert.Equal(t, MenuCase{
		Index:      1,
		Name:       "can connect",
		Type:       CaseNormal,
		Groups:     []string{"wifi"},
		Attributes: map[string]string{"timeout": "30"},
	}, menu[0])

	assert.Equal(t, CaseMultiStage, menu[1].Type)
	assert.Equal(t, []Subcase{{1, "first_stage"}, {2, "second_stage"}}, menu[1].Subcases)

	assert.Equal(t, CaseMultiDevice, menu[2].Type)
	assert.True(t, menu[2].IsIgnored())
	assert.Len(t, menu[2].Subcases, 2)

	assert.True(t, menu[3].IsIgnored())
	assert.Equal(t, "UT_T2", menu[3].Attributes["test_env"])
	assert.False(t, menu[0].IsIgnored())
}

func TestParseMenuRejectsGarbage(t *testing.T) {
	_, err := ParseMenu("(1) \"ok\" [a]\nthis is not a case\n")
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	wifi := MenuCase{Name: "a", Groups: []string{"wifi", "slow"}, Attributes: map[string]string{"env": "T1"}}
	ble := MenuCase{Name: "b", Groups: []string{"ble"}}

	assert.True(t, Filter{}.Match(wifi))
	assert.True(t, Filter{Groups: []string{"wifi"}}.Match(wifi))
	assert.False(t, Filter{Groups: []string{"wifi"}}.Match(ble))
	assert.True(t, Filter{Groups: []string{"wifi&slow"}}.Match(wifi))
	assert.False(t, Filter{Groups: []string{"wifi&!slow"}}.Match(wifi))
	assert.True(t, Filter{Groups: []string{"!wifi"}}.Match(ble))
	assert.True(t, Filter{Names: []string{"b"}}.Match(ble))
	assert.True(t, Filter{Attributes: map[string]string{"env": "T1"}}.Match(wifi))
	assert.False(t, Filter{Attributes: map[string]string{"env": "T2"}}.Match(wifi))
}
