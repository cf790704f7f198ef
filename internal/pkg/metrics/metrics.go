package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal 按方法、路由和状态码统计的 HTTP 请求总数。
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombook_http_requests_total",
			Help: "Total HTTP requests by method, path and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// MailJobsTotal 按结果统计的验证码邮件任务总数。
	MailJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombook_mail_jobs_total",
			Help: "Total verification mail jobs by result.",
		},
		[]string{"result"},
	)

	// CaptchaThrottledTotal 触发发送频率限制的验证码请求总数。
	CaptchaThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombook_captcha_throttled_total",
			Help: "Total captcha requests rejected by the rate limiter.",
		},
	)
)
