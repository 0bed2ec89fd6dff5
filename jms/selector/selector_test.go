package selector

import (
	"testing"

	"github.com/pkopriv2/relay/jms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(t *testing.T) jms.Message {
	msg := jms.NewTextMessage("body")
	msg.SetPriority(7)
	msg.SetType("order")
	msg.SetDeliveryMode(jms.NonPersistent)
	require.Nil(t, msg.SetStringProperty("color", "blue"))
	require.Nil(t, msg.SetInt32Property("size", 10))
	require.Nil(t, msg.SetFloat64Property("weight", 2.5))
	require.Nil(t, msg.SetBoolProperty("fragile", true))
	require.Nil(t, msg.SetStringProperty("code", "A_1%"))
	return msg
}

func TestParse_Empty(t *testing.T) {
	sel, err := Parse("   ")
	assert.Nil(t, err)
	assert.Nil(t, sel)
	assert.True(t, sel.Matches(jms.NewMessage()))
}

func TestSelector_Matches(t *testing.T) {
	msg := newMessage(t)

	tests := []struct {
		src   string
		match bool
	}{
		{"color = 'blue'", true},
		{"color <> 'blue'", false},
		{"size > 5 AND weight < 3", true},
		{"size > 5 AND weight > 3", false},
		{"size > 50 OR fragile", true},
		{"NOT fragile", false},
		{"size BETWEEN 10 AND 20", true},
		{"size NOT BETWEEN 10 AND 20", false},
		{"color IN ('red', 'blue')", true},
		{"color NOT IN ('red', 'blue')", false},
		{"color LIKE 'bl%'", true},
		{"color LIKE 'b_ue'", true},
		{"color NOT LIKE 'r%'", true},
		{"code LIKE 'A\\_1\\%' ESCAPE '\\'", true},
		{"code LIKE 'A\\_2%' ESCAPE '\\'", false},
		{"missing IS NULL", true},
		{"color IS NOT NULL", true},
		{"missing = 'x'", false},
		{"NOT missing = 'x'", false},
		{"missing = 'x' OR size = 10", true},
		{"size * 2 + 1 = 21", true},
		{"weight / 2 = 1.25", true},
		{"-size < 0", true},
		{"(size = 10 OR size = 11) AND color = 'blue'", true},
		{"JMSPriority >= 5", true},
		{"JMSType = 'order'", true},
		{"JMSDeliveryMode = 'NON_PERSISTENT'", true},
		{"color = 10", false},
		{"size = 10.0", true},
		{"fragile = TRUE", true},
		{"color = 'it''s'", false},
	}

	for _, test := range tests {
		sel, err := Parse(test.src)
		if !assert.Nil(t, err, test.src) {
			continue
		}
		assert.Equal(t, test.match, sel.Matches(msg), test.src)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"color = ",
		"color = 'blue",
		"size > 5 AND",
		"color IN ('a' 'b')",
		"color IN (1)",
		"color NOT = 'a'",
		"color IS 'a'",
		"(size = 1",
		"size # 1",
		"code LIKE 'a' ESCAPE 'ab'",
	} {
		_, err := Parse(src)
		assert.Equal(t, jms.InvalidSelectorError, jms.Extract(err), src)
	}
}

func TestSelector_String(t *testing.T) {
	sel, err := Parse("a = 1")
	require.Nil(t, err)
	assert.Equal(t, "a = 1", sel.String())

	var empty *Selector
	assert.Equal(t, "", empty.String())
}
