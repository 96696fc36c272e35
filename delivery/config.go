package delivery

import "time"

// Default message templates. Fields: Name, Email, Course, Date, Organization.
const (
	DefaultSubject = "🎓 Your Certificate for {{.Course}}"
	DefaultBody    = "Dear {{.Name}},\n\n" +
		"Congratulations! Your certificate for {{.Course}} on {{.Date}} is attached.\n\n" +
		"Best regards,\n" +
		"{{.Organization}}"
	DefaultOrganization = "Your Organization"
	DefaultPace         = time.Second
)

// Config contains message and pacing settings.
type Config struct {
	Subject      string        `envconfig:"MAIL_SUBJECT"`
	Body         string        `envconfig:"MAIL_BODY"` // markdown, also sent as HTML
	Organization string        `envconfig:"MAIL_ORGANIZATION" default:"Your Organization"`
	Pace         time.Duration `envconfig:"DELIVERY_PACE" default:"1s"` // wait after each successful send
}

func (c Config) withDefaults() Config {
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Body == "" {
		c.Body = DefaultBody
	}
	if c.Organization == "" {
		c.Organization = DefaultOrganization
	}
	if c.Pace < 0 {
		c.Pace = 0
	}
	return c
}
