package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"medprice-service/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns domain data into ready-to-send messages
type Renderer struct {
	tmpl    *template.Template
	siteURL string
}

type footer struct {
	Reason         string
	UnsubscribeURL string
}

// NewRenderer parses the embedded templates
func NewRenderer(siteURL string) (*Renderer, error) {
	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"money": func(v float64) string { return fmt.Sprintf("£%.2f", v) },
		"lines": func(s string) []string {
			if strings.TrimSpace(s) == "" {
				return nil
			}
			return strings.Split(s, "\n")
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, siteURL: strings.TrimRight(siteURL, "/")}, nil
}

func (r *Renderer) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return buf.String(), nil
}

// UnsubscribeURL links a subscriber to the unsubscribe page
func (r *Renderer) UnsubscribeURL(token string) string {
	if token == "" {
		return ""
	}
	return r.siteURL + "/unsubscribe?token=" + url.QueryEscape(token)
}

// PriceAlert renders the price-drop notification for an alert
func (r *Renderer) PriceAlert(alert *models.PriceAlert, price float64, pharmacyName string) (Message, error) {
	html, err := r.render("price_alert", map[string]interface{}{
		"MedicationName": alert.MedicationName,
		"Dosage":         alert.Dosage,
		"TargetPrice":    alert.TargetPrice,
		"Price":          price,
		"PharmacyName":   pharmacyName,
		"SiteURL":        r.siteURL,
		"Footer": footer{
			Reason: "You received this email because you set up a price alert on PriceMyMeds.",
		},
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:       alert.Email,
		Subject:  fmt.Sprintf("Price Alert: %s is now £%.2f!", alert.MedicationName, price),
		HTML:     html,
		FromName: "PriceMyMeds Alerts",
	}, nil
}

// CampaignBody renders a campaign for one subscriber's unsubscribe token
func (r *Renderer) CampaignBody(subject string, content models.CampaignContent, unsubscribeToken string) (string, error) {
	return r.render("campaign", map[string]interface{}{
		"Subject": subject,
		"Content": content,
		"SiteURL": r.siteURL,
		"Footer": footer{
			Reason:         "You are receiving this email because you subscribed to PriceMyMeds updates.",
			UnsubscribeURL: r.UnsubscribeURL(unsubscribeToken),
		},
	})
}

// WeeklyDigestBody renders the digest for one subscriber
func (r *Renderer) WeeklyDigestBody(items []models.MedicationWithLowest, unsubscribeToken string) (string, error) {
	return r.render("digest", map[string]interface{}{
		"Items":   items,
		"SiteURL": r.siteURL,
		"Footer": footer{
			Reason:         "You are receiving this weekly digest because you opted in on PriceMyMeds.",
			UnsubscribeURL: r.UnsubscribeURL(unsubscribeToken),
		},
	})
}

// WeeklyDigestSubject is the subject line of the digest sent at now
func WeeklyDigestSubject(now time.Time) string {
	return "Your Weekly Medication Price Digest - " + now.Format("2 Jan 2006")
}

// ContactNotification renders the admin notification for a contact submission
func (r *Renderer) ContactNotification(c *models.Contact, adminAddress string) (Message, error) {
	html, err := r.render("contact", map[string]interface{}{
		"Name":    c.Name,
		"Email":   c.Email,
		"Subject": c.Subject,
		"Message": c.Message,
		"Footer":  footer{Reason: "This email was sent from the PriceMyMeds contact form."},
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:       adminAddress,
		ReplyTo:  c.Email,
		Subject:  "Contact Form: " + c.Subject,
		HTML:     html,
		FromName: "PriceMyMeds Contact Form",
	}, nil
}
