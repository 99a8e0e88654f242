package core

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reminderLine struct {
	Category string
	Pending  string
	DueDate  string
}

type reminderData struct {
	SchoolName   string
	GuardianName string
	StudentName  string
	RollNumber   string
	AcademicYear string
	Fees         []reminderLine
	Total        string
}

func TestEmailMessage_Render(t *testing.T) {
	t.Run("plain body", func(t *testing.T) {
		msg := &EmailMessage{To: []mail.Address{{Address: "a@test.cd"}}, BodyStr: "hello"}
		require.NoError(t, msg.Render())
		assert.Equal(t, "hello", msg.TextContent)
		assert.True(t, msg.HasRecipients())
		assert.True(t, msg.HasContent())
	})

	t.Run("fee reminder template", func(t *testing.T) {
		msg := &EmailMessage{
			TemplateName: "fee_reminder",
			TemplateData: reminderData{
				SchoolName:   "Shule",
				GuardianName: "Mama Neema",
				StudentName:  "Neema",
				RollNumber:   "7A001",
				AcademicYear: "2026/2027",
				Fees:         []reminderLine{{Category: "Tuition", Pending: "2500.00", DueDate: "2026-09-30"}},
				Total:        "2500.00",
			},
		}
		require.NoError(t, msg.Render())
		assert.Contains(t, msg.TextContent, "Dear Mama Neema")
		assert.Contains(t, msg.TextContent, "Tuition: 2500.00 (due 2026-09-30)")
		assert.Contains(t, msg.HTMLContent, "<strong>Neema</strong>")
		assert.Contains(t, msg.HTMLContent, "Shule Bursary")
	})

	t.Run("unknown template", func(t *testing.T) {
		msg := &EmailMessage{TemplateName: "lol"}
		assert.EqualError(t, msg.Render(), `email template "lol" not found`)
	})
}
