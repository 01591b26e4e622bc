package prodeauth

import "log"

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendOTPEmail(to string, code string) error
	SendVerificationEmail(to string, verificationLink string) error
	SendPasswordResetEmail(to string, resetLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails to console
type ConsoleEmailSender struct{}

func (c *ConsoleEmailSender) SendOTPEmail(to string, code string) error {
	log.Printf("\n=== EMAIL: Sign-in code ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Your sign-in code")
	log.Printf("Body: Your one-time code is %s. It expires in 3 minutes.", code)
	log.Printf("===========================\n")
	return nil
}

func (c *ConsoleEmailSender) SendVerificationEmail(to string, verificationLink string) error {
	log.Printf("\n=== EMAIL: Verification ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Verify your email address")
	log.Printf("Body: Please verify your email by clicking: %s", verificationLink)
	log.Printf("===========================\n")
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(to string, resetLink string) error {
	log.Printf("\n=== EMAIL: Password Reset ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Reset your password")
	log.Printf("Body: Reset your password by clicking: %s", resetLink)
	log.Printf("==============================\n")
	return nil
}
