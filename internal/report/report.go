// Package report renders a partition's provisioning outcomes into an
// HTML body for email and a plain-text body for console mirroring. Both
// renderings share identical ordering and pluralization.
package report

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/osiriscare/winops/internal/provision"
)

// htmlTemplate is the email body. The bindings carry pre-sorted rows and
// pre-pluralized labels so the template stays presentation-only.
const htmlTemplate = `<html>
<body style="font-family: Segoe UI, Arial, sans-serif;">
<h2>{{ indicator }} Accounts Built</h2>
<p>Total accounts processed: {{ total }}</p>
{% if error_count > 0 %}
<h3>{{ error_label }}: {{ error_count }}</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Employee ID</th><th>Account Name</th><th>Errors</th></tr>
{% for row in errors %}<tr><td>{{ row.employee_id }}</td><td>{{ row.account_name }}</td><td>{% if row.multiple %}<ul>{% for e in row.errors %}<li>{{ e }}</li>{% endfor %}</ul>{% else %}{{ row.first_error }}{% endif %}</td></tr>
{% endfor %}</table>
{% endif %}
{% if success_count > 0 %}
<h3>{{ success_label }}: {{ success_count }}</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Employee ID</th><th>Email</th><th>First Name</th><th>Last Name</th></tr>
{% for row in successes %}<tr><td>{{ row.employee_id }}</td><td>{{ row.email }}</td><td>{{ row.first_name }}</td><td>{{ row.last_name }}</td></tr>
{% endfor %}</table>
{% endif %}
</body>
</html>`

// Renderer renders partition reports. Safe for reuse across partitions;
// the parsed template is cached on first use by the liquid engine.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Subject builds the email subject for one partition.
func Subject(indicator string, rs *provision.ResultSet) string {
	subject := fmt.Sprintf("%s Accounts Built", indicator)
	if len(rs.Errors) > 0 {
		subject += " - Including Error(s)"
	}
	return subject
}

// RenderHTML renders the email body for one partition.
func (r *Renderer) RenderHTML(indicator string, rs *provision.ResultSet) (string, error) {
	errRows := rs.SortedErrors()
	okRows := rs.SortedSuccesses()

	errors := make([]map[string]interface{}, 0, len(errRows))
	for _, row := range errRows {
		first := ""
		if len(row.Errors) > 0 {
			first = row.Errors[0]
		}
		errors = append(errors, map[string]interface{}{
			"employee_id":  row.EmployeeID,
			"account_name": row.AccountName,
			"errors":       row.Errors,
			"multiple":     len(row.Errors) > 1,
			"first_error":  first,
		})
	}

	successes := make([]map[string]interface{}, 0, len(okRows))
	for _, row := range okRows {
		successes = append(successes, map[string]interface{}{
			"employee_id": row.EmployeeID,
			"email":       row.Email,
			"first_name":  row.FirstName,
			"last_name":   row.LastName,
		})
	}

	bindings := map[string]interface{}{
		"indicator":     indicator,
		"total":         rs.Total(),
		"error_count":   len(errRows),
		"error_label":   pluralize("Account", len(errRows)) + " with errors",
		"errors":        errors,
		"success_count": len(okRows),
		"success_label": pluralize("Account", len(okRows)) + " created",
		"successes":     successes,
	}

	out, err := r.engine.ParseAndRenderString(htmlTemplate, bindings)
	if err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return out, nil
}

// RenderText renders the console mirror of the same report.
func (r *Renderer) RenderText(indicator string, rs *provision.ResultSet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s Accounts Built\n", indicator)
	fmt.Fprintf(&b, "Total accounts processed: %d\n", rs.Total())

	if errRows := rs.SortedErrors(); len(errRows) > 0 {
		fmt.Fprintf(&b, "\n%s with errors: %d\n", pluralize("Account", len(errRows)), len(errRows))
		for _, row := range errRows {
			fmt.Fprintf(&b, "  %s  %s\n", row.EmployeeID, row.AccountName)
			if len(row.Errors) > 1 {
				for _, e := range row.Errors {
					fmt.Fprintf(&b, "    - %s\n", e)
				}
			} else if len(row.Errors) == 1 {
				fmt.Fprintf(&b, "    %s\n", row.Errors[0])
			}
		}
	}

	if okRows := rs.SortedSuccesses(); len(okRows) > 0 {
		fmt.Fprintf(&b, "\n%s created: %d\n", pluralize("Account", len(okRows)), len(okRows))
		for _, row := range okRows {
			fmt.Fprintf(&b, "  %s  %s  %s %s\n", row.EmployeeID, row.Email, row.FirstName, row.LastName)
		}
	}

	return b.String()
}

func pluralize(noun string, n int) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
