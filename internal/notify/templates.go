package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var bodies = template.Must(template.New("notify").Parse(`
{{define "confirmed"}}<h2>You're on the list, {{.Name}}!</h2>
<p>Your seat at the wedding is confirmed. We can't wait to celebrate with you.</p>{{end}}
{{define "waitlisted"}}<h2>Thank you, {{.Name}}</h2>
<p>All seats are currently taken, so you are on the waitlist. We will email you as soon as a seat opens up.</p>{{end}}
{{define "declined"}}<h2>Thank you for letting us know, {{.Name}}</h2>
<p>We're sorry you can't make it. You can change your answer any time before the wedding.</p>{{end}}
{{define "promoted"}}<h2>Good news, {{.Name}}!</h2>
<p>A seat has opened up and you have been moved off the waitlist. Your attendance is now confirmed.</p>{{end}}
`))

var subjects = map[string]string{
	"confirmed":  "✅ Your RSVP is confirmed",
	"waitlisted": "⏳ You're on the waitlist",
	"declined":   "Your RSVP has been received",
	"promoted":   "🎉 A seat opened up for you",
}

// Render returns subject and html body for msg.
func Render(msg Message) (string, string, error) {
	name := msg.Status
	if msg.Kind == KindPromoted {
		name = "promoted"
	}
	subject, ok := subjects[name]
	if !ok {
		return "", "", fmt.Errorf("no template for %s/%s", msg.Kind, msg.Status)
	}

	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, name, msg); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subject, buf.String(), nil
}
