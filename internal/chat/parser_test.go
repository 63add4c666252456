package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse("How long have you had the headache?")

	assert.Equal(t, "How long have you had the headache?", res.Message)
	assert.False(t, res.ContractViolation)
}

func TestParseStructuredReply(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse(`{"message": "Hello", "followUpQuestions": ["Where does it hurt?"]}`)

	assert.Equal(t, "Hello", res.Message)
	assert.Equal(t, []string{"Where does it hurt?"}, res.FollowUpQuestions)
}

func TestParseFencedJSON(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse("```json\n{\"message\": \"Hello\"}\n```")

	assert.Equal(t, "Hello", res.Message)
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse(`Here is my reply: {"message": "Take it easy today."} Let me know.`)

	assert.Equal(t, "Take it easy today.", res.Message)
}

func TestParseUppercaseMessageKey(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse(`{"Message": "Hi there"}`)

	assert.Equal(t, "Hi there", res.Message)
}

func TestParseDuplicateMessageKeysLastWins(t *testing.T) {
	p := NewParser(nil)

	// duplicate keys are valid JSON to the decoder, so this never reaches the
	// regex stage; the decoder's last-key-wins result is what the user sees
	res := p.Parse(`{"message": "Hi", "message": "Bye"}`)

	assert.Equal(t, "Bye", res.Message)
	assert.False(t, res.ContractViolation)
}

func TestParseMissingMessageKeyFallsBack(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse(`{"followUpQuestions": ["anything else?"]}`)

	assert.Equal(t, FallbackMessage, res.Message)
	assert.True(t, res.ContractViolation)
}

func TestParseMalformedJSONRecoversMessageByRegex(t *testing.T) {
	p := NewParser(nil)

	// trailing comma keeps this from ever parsing as JSON
	res := p.Parse(`{"message": "Rest and drink water", "severity": ,}`)

	assert.Equal(t, "Rest and drink water", res.Message)
	assert.False(t, res.ContractViolation)
}

func TestParseRegexUnescapesMessage(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse(`broken {"message": "She said \"ouch\"", oops`)

	assert.Equal(t, `She said "ouch"`, res.Message)
}

func TestParseEmptyInput(t *testing.T) {
	p := NewParser(nil)

	res := p.Parse("   \n ")

	require.Empty(t, res.Message)
	assert.False(t, res.ContractViolation)
}
