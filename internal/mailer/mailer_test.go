package mailer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-events-api/pkg/jobs"
)

func TestRenderConfirmationIncludesTicket(t *testing.T) {
	subject, body := render(jobs.EmailPayload{
		Kind:       jobs.EmailConfirmation,
		EventTitle: "Hackathon",
		EventVenue: "Lab 1",
		StartTime:  time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC),
		Status:     "registered",
		QRCode:     "data:image/png;base64,abc",
	})
	require.Equal(t, "Registration confirmed: Hackathon", subject)
	require.Contains(t, body, `img src="data:image/png;base64,abc"`)
}

func TestRenderWaitlistedConfirmation(t *testing.T) {
	subject, body := render(jobs.EmailPayload{
		Kind:       jobs.EmailConfirmation,
		EventTitle: "Hackathon",
		Status:     "waitlisted",
	})
	require.Equal(t, "You are waitlisted for Hackathon", subject)
	require.Contains(t, body, "waitlist")
	require.NotContains(t, body, "img src")
}

func TestRenderCancellationCarriesReason(t *testing.T) {
	_, body := render(jobs.EmailPayload{
		Kind:       jobs.EmailCancellation,
		EventTitle: "Hackathon",
		Reason:     "Change of Plans",
	})
	require.Contains(t, body, "Change of Plans")
}
