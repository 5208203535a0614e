package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/tucitasegura/payments/internal/pkg/env"
)

// Enabled reports whether SMTP delivery is configured. Without a host
// the mailer stays silent; payment failures are still recorded in the
// notifications table.
func Enabled() bool {
	return env.GetEnv("SMTP_HOST", "") != ""
}

// SendMail sends an HTML email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "587")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendPaymentFailed notifies a user that a renewal charge was declined.
// The entitlement state is already persisted before this runs.
func SendPaymentFailed(to string, reason string) error {
	subject := "Problema con tu pago - TuCitaSegura"
	body := fmt.Sprintf(
		"<p>Hola,</p>"+
			"<p>No pudimos procesar el pago de tu membres&iacute;a (%s). "+
			"Por favor actualiza tu m&eacute;todo de pago para mantener tu acceso.</p>"+
			"<p>El equipo de TuCitaSegura</p>",
		reason,
	)
	return SendMail(to, subject, body)
}
