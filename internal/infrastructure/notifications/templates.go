package notifications

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"

	"github.com/zatekoja/patientjourney/internal/domain/providers"
)

// TemplateDefinition is the source of one notification template. Every text is
// a Go template executed against a view exposing .PatientName, .PortalURL,
// .JourneyID and {{.Field "key"}} for notification data.
type TemplateDefinition struct {
	Subject string
	HTML    string
	Text    string
	// WhatsAppTemplate is the approved template name on the WhatsApp side.
	// Empty means the template has no WhatsApp rendition.
	WhatsAppTemplate string
	WhatsAppParams   []string
}

type compiledTemplate struct {
	subject        *texttemplate.Template
	html           *htmltemplate.Template
	text           *texttemplate.Template
	whatsappName   string
	whatsappParams []*texttemplate.Template
}

// TemplateRegistry renders notification templates by name
type TemplateRegistry struct {
	templates map[string]*compiledTemplate
}

// NewTemplateRegistry returns a registry holding the built-in templates
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]*compiledTemplate)}
	for name, def := range defaultTemplates {
		if err := r.Register(name, def); err != nil {
			panic(fmt.Sprintf("built-in template %s: %v", name, err))
		}
	}
	return r
}

// Register compiles def under name, replacing any previous definition
func (r *TemplateRegistry) Register(name string, def TemplateDefinition) error {
	if name == "" {
		return fmt.Errorf("template name is required")
	}
	if def.Subject == "" || (def.HTML == "" && def.Text == "") {
		return fmt.Errorf("template %s needs a subject and a body", name)
	}

	ct := &compiledTemplate{whatsappName: def.WhatsAppTemplate}
	var err error
	if ct.subject, err = parseText(name+".subject", def.Subject); err != nil {
		return err
	}
	if def.HTML != "" {
		ct.html, err = htmltemplate.New(name + ".html").Option("missingkey=zero").Parse(def.HTML)
		if err != nil {
			return fmt.Errorf("parse %s.html: %w", name, err)
		}
	}
	if def.Text != "" {
		if ct.text, err = parseText(name+".text", def.Text); err != nil {
			return err
		}
	}
	for i, p := range def.WhatsAppParams {
		t, err := parseText(fmt.Sprintf("%s.whatsapp.%d", name, i), p)
		if err != nil {
			return err
		}
		ct.whatsappParams = append(ct.whatsappParams, t)
	}

	r.templates[name] = ct
	return nil
}

// Names lists the registered template names in order
func (r *TemplateRegistry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderEmail implements providers.MessageRenderer
func (r *TemplateRegistry) RenderEmail(template string, data providers.MessageData) (*providers.EmailContent, error) {
	ct, ok := r.templates[template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	v := newView(data)

	subject, err := execText(ct.subject, v)
	if err != nil {
		return nil, err
	}
	out := &providers.EmailContent{Subject: strings.TrimSpace(subject)}

	if ct.html != nil {
		var buf bytes.Buffer
		if err := ct.html.Execute(&buf, v); err != nil {
			return nil, fmt.Errorf("execute %s: %w", ct.html.Name(), err)
		}
		out.HTML = buf.String()
	}
	if ct.text != nil {
		if out.Text, err = execText(ct.text, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RenderWhatsApp implements providers.MessageRenderer
func (r *TemplateRegistry) RenderWhatsApp(template string, data providers.MessageData) (*providers.WhatsAppContent, error) {
	ct, ok := r.templates[template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	if ct.whatsappName == "" {
		return nil, fmt.Errorf("template %q has no whatsapp rendition", template)
	}
	v := newView(data)

	params := make([]string, 0, len(ct.whatsappParams))
	for _, t := range ct.whatsappParams {
		p, err := execText(t, v)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return &providers.WhatsAppContent{TemplateName: ct.whatsappName, Parameters: params}, nil
}

// view is what templates execute against
type view struct {
	PatientName string
	PortalURL   string
	JourneyID   string
	fields      map[string]interface{}
}

func newView(data providers.MessageData) view {
	name := data.PatientName
	if name == "" {
		name = "there"
	}
	return view{
		PatientName: name,
		PortalURL:   data.PortalURL,
		JourneyID:   data.JourneyID,
		fields:      data.Fields,
	}
}

// Field returns a data value as text, empty when absent
func (v view) Field(key string) string {
	val, ok := v.fields[key]
	if !ok || val == nil {
		return ""
	}
	return fmt.Sprint(val)
}

func parseText(name, src string) (*texttemplate.Template, error) {
	t, err := texttemplate.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return t, nil
}

func execText(t *texttemplate.Template, v view) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("execute %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

var _ providers.MessageRenderer = (*TemplateRegistry)(nil)

var defaultTemplates = map[string]TemplateDefinition{
	"welcome": {
		Subject: "Welcome to MedJourney, {{.PatientName}}",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Thank you for reaching out. A care coordinator will review your request and get back to you shortly.</p>
<p>You can follow your journey at <a href="{{.PortalURL}}/journeys/{{.JourneyID}}">your patient portal</a>.</p>`,
		Text: "Hello {{.PatientName}},\n\nThank you for reaching out. A care coordinator will review your request and get back to you shortly.\n\nFollow your journey at {{.PortalURL}}/journeys/{{.JourneyID}}\n",
	},
	"quote_ready": {
		Subject: "Your treatment quote is ready",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Your quote for {{.Field "total_amount"}} {{.Field "currency"}} is ready for review.</p>
<p><a href="{{.PortalURL}}/quotes/{{.Field "quote_id"}}">Review your quote</a></p>`,
		Text: "Hello {{.PatientName}},\n\nYour quote for {{.Field \"total_amount\"}} {{.Field \"currency\"}} is ready for review.\n\n{{.PortalURL}}/quotes/{{.Field \"quote_id\"}}\n",
	},
	"quote_accepted": {
		Subject: "Quote accepted: next steps",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Thank you for accepting your quote. Your booking reference is <strong>{{.Field "booking_id"}}</strong>.</p>
<p><a href="{{.PortalURL}}/bookings/{{.Field "booking_id"}}">Complete your payment</a> to secure your dates.</p>`,
		Text: "Hello {{.PatientName}},\n\nThank you for accepting your quote. Your booking reference is {{.Field \"booking_id\"}}.\n\nComplete your payment at {{.PortalURL}}/bookings/{{.Field \"booking_id\"}}\n",
	},
	"payment_received": {
		Subject: "Payment received",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>We received your payment of {{.Field "amount"}} {{.Field "currency"}} for booking {{.Field "booking_id"}}.</p>`,
		Text:             "Hello {{.PatientName}},\n\nWe received your payment of {{.Field \"amount\"}} {{.Field \"currency\"}} for booking {{.Field \"booking_id\"}}.\n",
		WhatsAppTemplate: "payment_received",
		WhatsAppParams:   []string{"{{.PatientName}}", `{{.Field "amount"}}`, `{{.Field "currency"}}`, `{{.Field "booking_id"}}`},
	},
	"payment_failed": {
		Subject: "Your payment did not go through",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Your payment for booking {{.Field "booking_id"}} could not be completed{{with .Field "error"}}: {{.}}{{end}}.</p>
<p><a href="{{.PortalURL}}/bookings/{{.Field "booking_id"}}">Try again</a></p>`,
		Text: "Hello {{.PatientName}},\n\nYour payment for booking {{.Field \"booking_id\"}} could not be completed{{with .Field \"error\"}}: {{.}}{{end}}.\n\nTry again at {{.PortalURL}}/bookings/{{.Field \"booking_id\"}}\n",
	},
	"booking_confirmed": {
		Subject: "Your booking is confirmed",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Booking {{.Field "booking_id"}} is confirmed. Your coordinator will share travel details soon.</p>`,
		Text: "Hello {{.PatientName}},\n\nBooking {{.Field \"booking_id\"}} is confirmed. Your coordinator will share travel details soon.\n",
	},
	"travel_reminder": {
		Subject: "Getting ready for your trip",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Your travel date is approaching. Please check your documents and itinerary in <a href="{{.PortalURL}}/journeys/{{.JourneyID}}">your patient portal</a>.</p>`,
		Text: "Hello {{.PatientName}},\n\nYour travel date is approaching. Please check your documents and itinerary at {{.PortalURL}}/journeys/{{.JourneyID}}\n",
	},
	"journey_cancelled": {
		Subject: "Your journey has been cancelled",
		HTML: `<p>Hello {{.PatientName}},</p>
<p>Your journey has been cancelled{{with .Field "reason"}}: {{.}}{{end}}. Reply to this email if this was unexpected.</p>`,
		Text: "Hello {{.PatientName}},\n\nYour journey has been cancelled{{with .Field \"reason\"}}: {{.}}{{end}}. Reply to this email if this was unexpected.\n",
	},
}
