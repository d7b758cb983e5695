package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// OrderSummary is what the confirmation mail shows.
type OrderSummary struct {
	OrderID  string
	Items    []OrderItem
	Total    decimal.Decimal
	Currency string
}

const mailStyle = `font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;`

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(s OrderSummary) string {
	var rows strings.Builder
	for _, item := range s.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		fmt.Fprintf(&rows, `<tr>
				<td style="padding: 8px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				<td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			html.EscapeString(name),
			item.Quantity,
			formatMoney(item.UnitPrice, s.Currency),
			formatMoney(item.LineTotal, s.Currency),
		)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="%s">
	<h1 style="font-size: 22px;">Thank you for your order</h1>
	<p>Order number <strong style="font-family: monospace;">%s</strong></p>
	<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr style="background: #f8f9fa;">
				<th style="padding: 8px; text-align: left;">Item</th>
				<th style="padding: 8px; text-align: center;">Qty</th>
				<th style="padding: 8px; text-align: right;">Unit price</th>
				<th style="padding: 8px; text-align: right;">Subtotal</th>
			</tr>
		</thead>
		<tbody>
			%s
		</tbody>
	</table>
	<p style="text-align: right; font-size: 18px;">Total <strong>%s</strong></p>
	<p style="font-size: 12px; color: #999;">This message was sent automatically.</p>
</body>
</html>`, mailStyle, html.EscapeString(s.OrderID), rows.String(), formatMoney(s.Total, s.Currency))
}

// BuildStatusChangeBody builds the HTML body for an order status update.
func BuildStatusChangeBody(orderID, from, to string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="%s">
	<h1 style="font-size: 22px;">Your order has been updated</h1>
	<p>Order <strong style="font-family: monospace;">%s</strong> moved from <em>%s</em> to <strong>%s</strong>.</p>
	<p style="font-size: 12px; color: #999;">This message was sent automatically.</p>
</body>
</html>`, mailStyle, html.EscapeString(orderID), html.EscapeString(from), html.EscapeString(to))
}

// formatMoney renders an amount with two decimals and thousands separators.
func formatMoney(d decimal.Decimal, currency string) string {
	str := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	whole, frac, _ := strings.Cut(str, ".")

	var result strings.Builder
	remainder := len(whole) % 3
	if remainder > 0 {
		result.WriteString(whole[:remainder])
	}
	for i := remainder; i < len(whole); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(whole[i : i+3])
	}

	return strings.TrimSpace(fmt.Sprintf("%s %s%s.%s", currency, sign, result.String(), frac))
}
