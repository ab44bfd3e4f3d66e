package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	"text/template"
	"time"
)

var (
	signupText = template.Must(template.New("signup").Parse(
		`Your verification code is {{.Code}}.

It expires in {{.TTL}}. If you did not request it, ignore this email.
`))
	signupHTML = htmltemplate.Must(htmltemplate.New("signup").Parse(
		`<p>Your verification code is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.TTL}}. If you did not request it, ignore this email.</p>
`))

	resetText = template.Must(template.New("reset").Parse(
		`Use the link below to choose a new password:

{{.Link}}

The link expires in {{.TTL}}. If you did not request a reset, ignore this email.
`))
	resetHTML = htmltemplate.Must(htmltemplate.New("reset").Parse(
		`<p>Use the link below to choose a new password:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>The link expires in {{.TTL}}. If you did not request a reset, ignore this email.</p>
`))
)

// SignupCodeMessage renders the verification email carrying code.
func SignupCodeMessage(to, code string, ttl time.Duration) (Message, error) {
	data := struct {
		Code string
		TTL  string
	}{Code: code, TTL: humanDuration(ttl)}

	var text, html bytes.Buffer
	if err := signupText.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := signupHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		Kind:    KindSignupCode,
		To:      to,
		Subject: "Your verification code",
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// PasswordResetMessage renders the reset email pointing at link.
func PasswordResetMessage(to, link string, ttl time.Duration) (Message, error) {
	data := struct {
		Link string
		TTL  string
	}{Link: link, TTL: humanDuration(ttl)}

	var text, html bytes.Buffer
	if err := resetText.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Reset your password",
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return strconv.FormatInt(int64(d/time.Hour), 10) + " hours"
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return strconv.FormatInt(int64(d/time.Minute), 10) + " minutes"
	default:
		return d.String()
	}
}
