package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_Redact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "email", in: "write to jeff.skilling@enron.com today", want: "write to <REDACTED> today"},
		{name: "url", in: "see http://www.enron.com/x?y=1 now", want: "see <REDACTED> now"},
		{name: "www url", in: "visit www.enron.com", want: "visit <REDACTED>"},
		{name: "ssn", in: "ssn 123-45-6789.", want: "ssn <REDACTED>."},
		{name: "credit card", in: "card 4111 1111 1111 1111 ok", want: "card <REDACTED> ok"},
		{name: "digits failing checksum", in: "order 1234567890123 shipped", want: "order 1234567890123 shipped"},
		{name: "ip address", in: "host 10.0.0.12 down", want: "host <REDACTED> down"},
		{name: "phone with area code", in: "call (713) 853-6161 now", want: "call <REDACTED> now"},
		{name: "phone dashed", in: "call 713-853-6161", want: "call <REDACTED>"},
		{name: "honorific name", in: "met with Mr. Skilling yesterday", want: "met with <REDACTED> yesterday"},
		{name: "honorific full name", in: "ask Mrs Jane Doe", want: "ask <REDACTED>"},
		{name: "nothing to redact", in: "gas prices rose 3 percent", want: "gas prices rose 3 percent"},
	}

	r := NewRedactor("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Redact(tt.in))
		})
	}
}

func TestRedactor_CustomReplacement(t *testing.T) {
	r := NewRedactor("[X]")
	assert.Equal(t, "mail [X]", r.Redact("mail a@enron.com"))
}

func TestRedactor_Counts(t *testing.T) {
	counts := map[string]int{}
	out := NewRedactor("").redact("a@enron.com and c@enron.com, call 713-853-6161", counts)

	assert.Equal(t, "<REDACTED> and <REDACTED>, call <REDACTED>", out)
	assert.Equal(t, map[string]int{"EMAIL_ADDRESS": 2, "PHONE_NUMBER": 1}, counts)
}

func TestSafeRedact_KeepsTextOnPanic(t *testing.T) {
	var broken *Redactor
	got := safeRedact(broken, "mail a@enron.com", nil, quietLogger(), "inbox/1.")
	assert.Equal(t, "mail a@enron.com", got)
}

func TestLuhn(t *testing.T) {
	assert.True(t, luhn("4111111111111111"))
	assert.True(t, luhn("4111-1111-1111-1111"))
	assert.False(t, luhn("4111111111111112"))
	assert.False(t, luhn("0000"))
}
