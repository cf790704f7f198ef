package notify

// Mailer 定义验证码邮件的发送接口。
type Mailer interface {
	// SendVerificationCode 向指定邮箱发送一封验证码邮件。
	SendVerificationCode(to string, code string) error
}
