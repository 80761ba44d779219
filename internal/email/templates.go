package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderCancelled    = "order_cancelled"
	TemplateOrderShipped      = "order_shipped"
	TemplateRefundIssued      = "refund_issued"
)

// Message is the view model every template renders.
type Message struct {
	OrderNumber     string
	CustomerEmail   string
	OrderDate       string
	Items           []MessageItem
	Subtotal        string
	Discount        string
	Shipping        string
	Tax             string
	Total           string
	Reason          string
	RefundAmount    string
	TrackingNumber  string
	TrackingCarrier string
	TrackingURL     string
}

type MessageItem struct {
	Title     string
	Quantity  int
	LineTotal string
}

type template struct {
	subject string
	text    string
	html    string
}

var templates = map[string]template{
	TemplateOrderConfirmation: {
		subject: "Order {{.OrderNumber}} received",
		text:    orderConfirmationText,
		html:    orderConfirmationHTML,
	},
	TemplateOrderCancelled: {
		subject: "Order {{.OrderNumber}} cancelled",
		text:    orderCancelledText,
		html:    orderCancelledHTML,
	},
	TemplateOrderShipped: {
		subject: "Order {{.OrderNumber}} has shipped",
		text:    orderShippedText,
		html:    orderShippedHTML,
	},
	TemplateRefundIssued: {
		subject: "Refund issued for order {{.OrderNumber}}",
		text:    refundIssuedText,
		html:    refundIssuedHTML,
	},
}

// Renderer holds the parsed templates. HTML bodies are escaped by html/template.
type Renderer struct {
	subjects *texttemplate.Template
	texts    *texttemplate.Template
	htmls    *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		subjects: texttemplate.New("subjects"),
		texts:    texttemplate.New("texts"),
		htmls:    htmltemplate.New("htmls"),
	}
	for name, t := range templates {
		if _, err := r.subjects.New(name).Parse(t.subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := r.texts.New(name).Parse(t.text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := r.htmls.New(name).Parse(t.html); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}
	return r, nil
}

func (r *Renderer) Render(name string, msg *Message) (*Email, error) {
	if _, ok := templates[name]; !ok {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	var subject, text, html bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, name, msg); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.texts.ExecuteTemplate(&text, name, msg); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.htmls.ExecuteTemplate(&html, name, msg); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      msg.CustomerEmail,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
		Ref:     msg.OrderNumber,
	}, nil
}

const orderConfirmationText = `Thank you for your order!

Order Number: {{.OrderNumber}}
Order Date: {{.OrderDate}}

Items:
{{range .Items}}- {{.Title}} x{{.Quantity}} - {{.LineTotal}}
{{end}}
Subtotal: {{.Subtotal}}
{{if .Discount}}Discount: -{{.Discount}}
{{end}}Shipping: {{.Shipping}}
Tax: {{.Tax}}
Total: {{.Total}}

We'll email you again when your order ships.
`

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order {{.OrderNumber}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>Thank you for your order</h1>
  <p><strong>Order Number:</strong> {{.OrderNumber}}<br><strong>Order Date:</strong> {{.OrderDate}}</p>
  <table style="width: 100%; border-collapse: collapse;">
    <thead><tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th></tr></thead>
    <tbody>
    {{range .Items}}<tr><td>{{.Title}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.LineTotal}}</td></tr>
    {{end}}
    </tbody>
  </table>
  <p style="text-align: right;">
    Subtotal: {{.Subtotal}}<br>
    {{if .Discount}}Discount: -{{.Discount}}<br>{{end}}
    Shipping: {{.Shipping}}<br>
    Tax: {{.Tax}}<br>
    <strong>Total: {{.Total}}</strong>
  </p>
</body>
</html>
`

const orderCancelledText = `Your order {{.OrderNumber}} has been cancelled.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}
If you were charged, the payment will be returned to your original payment method.
`

const orderCancelledHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order {{.OrderNumber}} cancelled</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>Order cancelled</h1>
  <p>Your order <strong>{{.OrderNumber}}</strong> has been cancelled.</p>
  {{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
  <p>If you were charged, the payment will be returned to your original payment method.</p>
</body>
</html>
`

const orderShippedText = `Your order {{.OrderNumber}} is on its way.
{{if .TrackingNumber}}
Carrier: {{.TrackingCarrier}}
Tracking Number: {{.TrackingNumber}}
{{if .TrackingURL}}Track your package: {{.TrackingURL}}
{{end}}{{end}}`

const orderShippedHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order {{.OrderNumber}} shipped</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>Your order has shipped</h1>
  <p><strong>Order Number:</strong> {{.OrderNumber}}</p>
  {{if .TrackingNumber}}
  <p><strong>Carrier:</strong> {{.TrackingCarrier}}<br><strong>Tracking Number:</strong> {{.TrackingNumber}}</p>
  {{if .TrackingURL}}<p><a href="{{.TrackingURL}}">Track your package</a></p>{{end}}
  {{end}}
</body>
</html>
`

const refundIssuedText = `A refund of {{.RefundAmount}} has been issued for order {{.OrderNumber}}.

It can take 5-10 business days to appear on your statement.
`

const refundIssuedHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Refund for {{.OrderNumber}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>Refund issued</h1>
  <p>A refund of <strong>{{.RefundAmount}}</strong> has been issued for order {{.OrderNumber}}.</p>
  <p>It can take 5-10 business days to appear on your statement.</p>
</body>
</html>
`
