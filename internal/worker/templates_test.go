package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klamai/klamai-backend/internal/queue"
)

func TestRender_LawyerWelcome(t *testing.T) {
	mail, err := Render(queue.EmailPayload{
		Kind: queue.EmailLawyerWelcome,
		To:   "abogado@example.com",
		Params: map[string]string{
			"nombre":   "Ana",
			"password": "tmp-123",
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"abogado@example.com"}, mail.To)
	assert.Contains(t, mail.TextBody, "Ana")
	assert.Contains(t, mail.TextBody, "tmp-123")
}

func TestRender_PaymentReceipt(t *testing.T) {
	mail, err := Render(queue.EmailPayload{
		Kind: queue.EmailPaymentReceipt,
		To:   "cliente@example.com",
		Params: map[string]string{
			"importe": "37.50 eur",
			"caso":    "abc-123",
		},
	})
	assert.NoError(t, err)
	assert.Contains(t, mail.TextBody, "37.50 eur")
	assert.Contains(t, mail.TextBody, "abc-123")
}

func TestRender_Errors(t *testing.T) {
	_, err := Render(queue.EmailPayload{Kind: queue.EmailLawyerWelcome})
	assert.Error(t, err, "empty recipient")

	_, err = Render(queue.EmailPayload{Kind: "email:desconocido", To: "x@example.com"})
	assert.Error(t, err)
}
