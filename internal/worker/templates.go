package worker

import (
	"fmt"

	"github.com/klamai/klamai-backend/internal/mailer"
	"github.com/klamai/klamai-backend/internal/queue"
)

// Render turns a queued payload into a deliverable email.
func Render(p queue.EmailPayload) (*mailer.Email, error) {
	if p.To == "" {
		return nil, fmt.Errorf("empty recipient")
	}

	switch p.Kind {
	case queue.EmailLawyerWelcome:
		return &mailer.Email{
			To:      []string{p.To},
			Subject: "Bienvenido a KlamAI",
			TextBody: fmt.Sprintf(
				"Hola %s,\n\nTu solicitud ha sido aprobada. Ya puedes acceder al panel de abogados.\n\n"+
					"Usuario: %s\nContraseña temporal: %s\n\nCambia la contraseña en tu primer acceso.\n\nEquipo KlamAI",
				p.Params["nombre"], p.To, p.Params["password"]),
		}, nil

	case queue.EmailRequestRejected:
		return &mailer.Email{
			To:      []string{p.To},
			Subject: "Tu solicitud en KlamAI",
			TextBody: fmt.Sprintf(
				"Hola %s,\n\nLamentamos informarte de que tu solicitud no ha sido aprobada.\n\nMotivo: %s\n\nEquipo KlamAI",
				p.Params["nombre"], p.Params["motivo"]),
		}, nil

	case queue.EmailPaymentReceipt:
		return &mailer.Email{
			To:      []string{p.To},
			Subject: "Pago recibido - tu consulta ya está en marcha",
			TextBody: fmt.Sprintf(
				"Hemos recibido tu pago de %s.\n\nTu caso ha pasado a estar disponible para nuestros abogados "+
					"y te avisaremos en cuanto uno lo tome.\n\nReferencia del caso: %s\n\nEquipo KlamAI",
				p.Params["importe"], p.Params["caso"]),
		}, nil

	case queue.EmailCaseAssigned:
		return &mailer.Email{
			To:      []string{p.To},
			Subject: "Se te ha asignado un caso",
			TextBody: fmt.Sprintf(
				"Se te ha asignado el caso %s.\n\nNotas del asignador: %s\n\nEquipo KlamAI",
				p.Params["caso"], p.Params["notas"]),
		}, nil
	}

	return nil, fmt.Errorf("unknown email kind %q", p.Kind)
}
