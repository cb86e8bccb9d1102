package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/domain/providers"
)

func messageData(fields map[string]interface{}) providers.MessageData {
	return providers.MessageData{
		PatientName: "Ada Obi",
		PortalURL:   "https://portal.test",
		JourneyID:   "j-1",
		Fields:      fields,
	}
}

func TestTemplateRegistry_BuiltInNames(t *testing.T) {
	assert.Equal(t, []string{
		"booking_confirmed",
		"journey_cancelled",
		"payment_failed",
		"payment_received",
		"quote_accepted",
		"quote_ready",
		"travel_reminder",
		"welcome",
	}, NewTemplateRegistry().Names())
}

func TestTemplateRegistry_RenderEmail(t *testing.T) {
	r := NewTemplateRegistry()

	content, err := r.RenderEmail("welcome", messageData(nil))
	require.NoError(t, err)
	assert.Equal(t, "Welcome to MedJourney, Ada Obi", content.Subject)
	assert.Contains(t, content.HTML, `href="https://portal.test/journeys/j-1"`)
	assert.Contains(t, content.Text, "https://portal.test/journeys/j-1")

	content, err = r.RenderEmail("payment_received", messageData(map[string]interface{}{
		"amount":     "405",
		"currency":   "USD",
		"booking_id": "b-1",
	}))
	require.NoError(t, err)
	assert.Contains(t, content.Text, "405 USD for booking b-1")
}

func TestTemplateRegistry_OptionalFields(t *testing.T) {
	r := NewTemplateRegistry()

	content, err := r.RenderEmail("journey_cancelled", messageData(map[string]interface{}{"reason": "patient withdrew"}))
	require.NoError(t, err)
	assert.Contains(t, content.Text, "cancelled: patient withdrew.")

	content, err = r.RenderEmail("journey_cancelled", messageData(nil))
	require.NoError(t, err)
	assert.Contains(t, content.Text, "has been cancelled. Reply")
}

func TestTemplateRegistry_EscapesHTML(t *testing.T) {
	data := messageData(map[string]interface{}{"booking_id": "b-1", "error": "<script>x</script>"})

	content, err := NewTemplateRegistry().RenderEmail("payment_failed", data)
	require.NoError(t, err)
	assert.NotContains(t, content.HTML, "<script>")
	assert.Contains(t, content.Text, "<script>x</script>")
}

func TestTemplateRegistry_MissingPatientName(t *testing.T) {
	content, err := NewTemplateRegistry().RenderEmail("welcome", providers.MessageData{})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to MedJourney, there", content.Subject)
}

func TestTemplateRegistry_RenderWhatsApp(t *testing.T) {
	r := NewTemplateRegistry()

	content, err := r.RenderWhatsApp("payment_received", messageData(map[string]interface{}{
		"amount":     "405",
		"currency":   "USD",
		"booking_id": "b-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "payment_received", content.TemplateName)
	assert.Equal(t, []string{"Ada Obi", "405", "USD", "b-1"}, content.Parameters)

	_, err = r.RenderWhatsApp("welcome", messageData(nil))
	assert.ErrorContains(t, err, "no whatsapp rendition")
}

func TestTemplateRegistry_UnknownTemplate(t *testing.T) {
	r := NewTemplateRegistry()

	_, err := r.RenderEmail("nope", messageData(nil))
	assert.EqualError(t, err, `unknown template "nope"`)

	_, err = r.RenderWhatsApp("nope", messageData(nil))
	assert.EqualError(t, err, `unknown template "nope"`)
}

func TestTemplateRegistry_Register(t *testing.T) {
	r := NewTemplateRegistry()

	assert.Error(t, r.Register("", TemplateDefinition{Subject: "x", Text: "y"}))
	assert.Error(t, r.Register("empty", TemplateDefinition{Subject: "x"}))
	assert.Error(t, r.Register("broken", TemplateDefinition{Subject: "{{.PatientName", Text: "y"}))

	require.NoError(t, r.Register("quote_feedback", TemplateDefinition{
		Subject:          "How was your quote?",
		Text:             "Hi {{.PatientName}}, quote {{.Field \"quote_id\"}}",
		WhatsAppTemplate: "quote_feedback_v2",
		WhatsAppParams:   []string{`{{.Field "quote_id"}}`},
	}))

	content, err := r.RenderEmail("quote_feedback", messageData(map[string]interface{}{"quote_id": "q-9"}))
	require.NoError(t, err)
	assert.Empty(t, content.HTML)
	assert.Equal(t, "Hi Ada Obi, quote q-9", content.Text)

	wa, err := r.RenderWhatsApp("quote_feedback", messageData(map[string]interface{}{"quote_id": "q-9"}))
	require.NoError(t, err)
	assert.Equal(t, "quote_feedback_v2", wa.TemplateName)
	assert.Equal(t, []string{"q-9"}, wa.Parameters)
}
