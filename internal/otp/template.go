package otp

import (
	"regexp"
	"strings"
)

// Order holds the order fields available to confirmation templates.
type Order struct {
	ID     string
	Number string
	Total  string
}

// TemplateCustomer holds the customer fields available to confirmation
// templates. Missing fields collapse to empty strings.
type TemplateCustomer struct {
	FirstName string
	LastName  string
	Email     string
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

// RenderOrderMessage substitutes the supported placeholders into tmpl and
// normalizes runs of whitespace left behind by empty fields.
//
// Supported placeholders: {order.number}, {order.id}, {order.total},
// {customer.firstName}, {customer.lastName}, {customer.email}.
func RenderOrderMessage(tmpl string, order Order, customer TemplateCustomer) string {
	r := strings.NewReplacer(
		"{order.number}", order.Number,
		"{order.id}", order.ID,
		"{order.total}", order.Total,
		"{customer.firstName}", customer.FirstName,
		"{customer.lastName}", customer.LastName,
		"{customer.email}", customer.Email,
	)
	out := r.Replace(tmpl)
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(out, " "))
}
