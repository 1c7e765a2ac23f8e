package email

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"safety-listener/models"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Compose renders the notification for one event. It is pure: no I/O, and
// identical inputs yield identical output. Detection times are rendered as
// UTC RFC 3339. The plain-text body is derived from the HTML body so
// transports that reject rich content always have a non-empty fallback.
func Compose(event models.Event, siteName string) models.Message {
	if siteName == "" {
		siteName = event.SiteID
	}
	detectedAt := event.DetectedAt.UTC().Format(time.RFC3339)

	var countLine string
	if event.NoHardhatCount > 0 {
		countLine = fmt.Sprintf("<li><strong>Workers without hardhat:</strong> %d</li>\n        ", event.NoHardhatCount)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Safety Event Alert</title>
</head>
<body>
    <h2>New safety event detected</h2>
    <ul>
        <li><strong>Site:</strong> %s</li>
        <li><strong>Area:</strong> %s</li>
        <li><strong>Time:</strong> %s</li>
        %s<li><strong>Details:</strong> %s</li>
    </ul>
    <p>Please review the event on the dashboard and mark it handled once resolved.</p>
</body>
</html>`, siteName, event.AreaID, detectedAt, countLine, event.Details)

	return models.Message{
		Subject:  fmt.Sprintf("New Safety Event Alert - %s", siteName),
		HTMLBody: html,
		TextBody: stripTags(html),
	}
}

// stripTags flattens HTML into plain text
func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
