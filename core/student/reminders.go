package student

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

const feeReminderTemplate = "fee_reminder"

type (
	reminderLine struct {
		Category string
		Pending  string
		DueDate  string
	}

	reminderData struct {
		SchoolName   string
		GuardianName string
		StudentName  string
		RollNumber   string
		AcademicYear string
		Fees         []reminderLine
		Total        string
	}
)

// SendFeeReminders emails the guardian of every student with pending fees in the current academic year.
// Students without a guardian email are skipped. Returns the number of reminders sent.
func (svc *Service) SendFeeReminders(ctx context.Context) (int, error) {
	current, err := svc.currentYear(ctx)
	if err != nil {
		return 0, err
	}
	fees, err := svc.repo.QueryStudentFees(ctx, FeeFilter{AcademicYearID: current.ID, PendingOnly: true})
	if err != nil {
		return 0, errors.Wrap(err, "querying pending fees")
	}

	// keep the students in query order
	order := make([]string, 0)
	byStudent := make(map[string][]StudentFee)
	for _, fee := range fees {
		if _, ok := byStudent[fee.StudentID]; !ok {
			order = append(order, fee.StudentID)
		}
		byStudent[fee.StudentID] = append(byStudent[fee.StudentID], fee)
	}

	messages := make([]*core.EmailMessage, 0, len(order))
	for _, id := range order {
		st, err := svc.repo.GetStudent(ctx, id)
		if err != nil {
			return 0, errors.Wrap(err, "getting student")
		}
		addr, ok := st.GuardianAddress()
		if !ok {
			continue
		}
		messages = append(messages, svc.reminderMessage(st, addr, current, byStudent[id]))
	}

	if len(messages) > 0 {
		svc.mailer.SendMessages(messages...)
	}
	svc.logger.Info("fee reminders sent", map[string]interface{}{"academic_year": current.Name, "count": len(messages)})
	return len(messages), nil
}

func (svc *Service) reminderMessage(st Student, to mail.Address, year AcademicYear, fees []StudentFee) *core.EmailMessage {
	data := reminderData{
		SchoolName:   svc.schoolName,
		GuardianName: st.GuardianName,
		StudentName:  st.Name,
		RollNumber:   st.RollNumber,
		AcademicYear: year.Name,
		Fees:         make([]reminderLine, 0, len(fees)),
	}
	if data.GuardianName == "" {
		data.GuardianName = "Parent/Guardian"
	}
	if data.RollNumber == "" {
		data.RollNumber = "no roll number"
	}

	total := decimal.Zero
	for _, fee := range fees {
		total = total.Add(fee.PendingAmount)
		data.Fees = append(data.Fees, reminderLine{
			Category: fee.FeeCategoryName,
			Pending:  fee.PendingAmount.StringFixed(2),
			DueDate:  fee.DueDate.Format("2006-01-02"),
		})
	}
	data.Total = total.StringFixed(2)

	return &core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      "Outstanding fees for " + st.Name,
		TemplateName: feeReminderTemplate,
		TemplateData: data,
	}
}
